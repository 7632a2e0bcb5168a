package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banlabel/core"
)

func TestBatchQueueFlush(t *testing.T) {
	var lock sync.Mutex
	written := make(map[int]bool)
	var running, peak int32
	q := NewBatchQueue[int](10, 3, 2, func(ctx context.Context, items []int) *errs.Error {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		lock.Lock()
		for _, v := range items {
			written[v] = true
		}
		lock.Unlock()
		atomic.AddInt32(&running, -1)
		return nil
	})
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if err := q.Add(ctx, i); err != nil {
			t.Fatal(err)
		}
		// 达到批次大小后必须已经全部写入
		if (i+1)%10 == 0 && q.Flushed != i+1 {
			t.Errorf("barrier broken at %v, flushed %v", i, q.Flushed)
		}
	}
	if q.Len() != 5 {
		t.Errorf("expect 5 buffered, got %v", q.Len())
	}
	if err := q.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(written) != 25 || q.Flushed != 25 || q.Batches != 3 {
		t.Errorf("written %v flushed %v batches %v", len(written), q.Flushed, q.Batches)
	}
	if peak > 2 {
		t.Errorf("workers limit exceeded: %v", peak)
	}
}

func TestBatchQueueCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var num int32
	q := NewBatchQueue[int](100, 10, 4, func(ctx context.Context, items []int) *errs.Error {
		if ctx.Err() != nil {
			return errs.New(core.ErrRunTime, ctx.Err())
		}
		atomic.AddInt32(&num, int32(len(items)))
		return nil
	})
	for i := 0; i < 42; i++ {
		_ = q.Add(ctx, i)
	}
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("flush after cancel should succeed: %v", err)
	}
	if num != 42 {
		t.Errorf("expect 42 rows written, got %v", num)
	}
}

func TestBatchQueueError(t *testing.T) {
	q := NewBatchQueue[int](4, 2, 2, func(ctx context.Context, items []int) *errs.Error {
		for _, v := range items {
			if v == 3 {
				return errs.NewMsg(core.ErrDbExecFail, "fail at %v", v)
			}
		}
		return nil
	})
	ctx := context.Background()
	var err *errs.Error
	for i := 0; i < 4 && err == nil; i++ {
		err = q.Add(ctx, i)
	}
	if err == nil || err.Code != core.ErrDbExecFail {
		t.Fatalf("expect DbExecFail, got %v", err)
	}
	if q.Flushed != 0 {
		t.Errorf("failed batch should not count, got %v", q.Flushed)
	}
}

func TestParallelRun(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	var sum int64
	err := ParallelRun(items, 5, func(_ int, v int) *errs.Error {
		atomic.AddInt64(&sum, int64(v))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum != 49*50/2 {
		t.Errorf("sum wrong: %v", sum)
	}
	err = ParallelRun(items, 3, func(i int, v int) *errs.Error {
		if v == 7 {
			return errs.NewMsg(core.ErrRunTime, "bad %v", v)
		}
		return nil
	})
	if err == nil || err.Code != core.ErrRunTime {
		t.Errorf("expect error, got %v", err)
	}
}
