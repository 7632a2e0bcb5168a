package utils

import (
	"context"
	"errors"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banlabel/core"
	"golang.org/x/sync/errgroup"
)

type FnWriteBatch[T any] func(ctx context.Context, items []T) *errs.Error

/*
BatchQueue 缓存待写入的行，达到BatchSize后拆分为多个块，由最多Workers个协程并发写入。
Flush会阻塞直到整批写入完成，保证批次之间的顺序；同一批次内不保证顺序。
*/
type BatchQueue[T any] struct {
	BatchSize int
	ChunkSize int
	Workers   int
	Flushed   int // 已成功写入的行数
	Batches   int // 已写入的批次数
	write     FnWriteBatch[T]
	buf       []T
}

func NewBatchQueue[T any](batchSize, chunkSize, workers int, write FnWriteBatch[T]) *BatchQueue[T] {
	if batchSize <= 0 {
		batchSize = core.DefaultBatchSize
	}
	if chunkSize <= 0 {
		chunkSize = core.DefaultChunkSize
	}
	if workers <= 0 {
		workers = core.DefaultWorkers
	}
	return &BatchQueue[T]{
		BatchSize: batchSize,
		ChunkSize: chunkSize,
		Workers:   workers,
		write:     write,
		buf:       make([]T, 0, batchSize),
	}
}

func (q *BatchQueue[T]) Len() int {
	return len(q.buf)
}

func (q *BatchQueue[T]) Add(ctx context.Context, items ...T) *errs.Error {
	q.buf = append(q.buf, items...)
	if len(q.buf) >= q.BatchSize {
		return q.Flush(ctx)
	}
	return nil
}

/*
Flush 写入缓存的全部行。ctx被取消时仍会完成本批次写入，已缓存的数据不会丢失
*/
func (q *BatchQueue[T]) Flush(ctx context.Context) *errs.Error {
	if len(q.buf) == 0 {
		return nil
	}
	batch := q.buf
	q.buf = make([]T, 0, q.BatchSize)
	if ctx == nil {
		ctx = context.Background()
	}
	wctx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(q.Workers)
	for start := 0; start < len(batch); start += q.ChunkSize {
		chunk := batch[start:min(start+q.ChunkSize, len(batch))]
		g.Go(func() error {
			if err := q.write(wctx, chunk); err != nil {
				return err
			}
			return nil
		})
	}
	err_ := g.Wait()
	if err_ != nil {
		var err *errs.Error
		if errors.As(err_, &err) {
			return err
		}
		return errs.New(core.ErrDbExecFail, err_)
	}
	q.Flushed += len(batch)
	q.Batches += 1
	return nil
}
