package feats

import (
	"context"
	"math/rand"
	"slices"
	"testing"

	"github.com/banbox/banexg/errs"

	"github.com/banbox/banlabel/core"
)

func TestZigZagSample(t *testing.T) {
	closes := []float64{1, 2, 3, 2, 1, 2, 3, 4, 3, 2}
	arr := BarArrFromCloses(0, 60000, closes)
	res, err := CalcZigZag(context.Background(), arr, 2, nil)
	if err != nil {
		t.Fatalf("zigzag fail: %v", err)
	}
	expect := []int{0, 0, 1, 0, -1, 0, 0, 1, 0, 0}
	if !slices.Equal(arr.Pivot, expect) {
		t.Errorf("pivots %v, expect %v", arr.Pivot, expect)
	}
	if !slices.Equal(arr.Ref, closes) {
		t.Errorf("refValue should equal close, got %v", arr.Ref)
	}
	if res.Done != len(closes) || res.Cancelled {
		t.Errorf("bad result: %+v", res)
	}
}

func randWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	res := make([]float64, n)
	price := 100.0
	for i := range res {
		price += float64(rng.Intn(21)-10) / 10
		res[i] = price
	}
	return res
}

func TestZigZagAlternates(t *testing.T) {
	for _, ahead := range []int{1, 2, 3, 5} {
		closes := randWalk(2000, int64(ahead))
		arr := BarArrFromCloses(0, 1000, closes)
		_, err := CalcZigZag(context.Background(), arr, ahead, nil)
		if err != nil {
			t.Fatalf("ahead %v: %v", ahead, err)
		}
		last, num := 0, 0
		for i, p := range arr.Pivot {
			if p == 0 {
				continue
			}
			num += 1
			if p == last {
				t.Errorf("ahead %v: pivot %v at %v repeats previous direction", ahead, p, i)
			}
			if i < ahead || i+ahead >= len(closes) {
				t.Errorf("ahead %v: pivot at %v without enough neighbors", ahead, i)
			}
			last = p
		}
		if num == 0 {
			t.Errorf("ahead %v: no pivot found", ahead)
		}
	}
}

func TestZigZagIdempotent(t *testing.T) {
	closes := randWalk(500, 7)
	arr := BarArrFromCloses(0, 1000, closes)
	if _, err := CalcZigZag(context.Background(), arr, 3, nil); err != nil {
		t.Fatal(err)
	}
	pivots := slices.Clone(arr.Pivot)
	refs := slices.Clone(arr.Ref)
	// dirty values must be reset by the next run
	arr.Pivot[10], arr.Ref[11] = 1, -5
	if _, err := CalcZigZag(context.Background(), arr, 3, nil); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(pivots, arr.Pivot) || !slices.Equal(refs, arr.Ref) {
		t.Error("rerun changed pivots or refValues")
	}
}

func TestZigZagFlat(t *testing.T) {
	closes := []float64{5, 5, 5, 5, 5, 5, 5}
	arr := BarArrFromCloses(0, 1000, closes)
	if _, err := CalcZigZag(context.Background(), arr, 2, nil); err != nil {
		t.Fatal(err)
	}
	// 平盘时只有第一个底点成立，后续同向候选被忽略
	num := 0
	for _, p := range arr.Pivot {
		if p == 1 {
			t.Errorf("flat series should have no top: %v", arr.Pivot)
		}
		if p != 0 {
			num += 1
		}
	}
	if num > 1 {
		t.Errorf("flat series yields repeated pivots: %v", arr.Pivot)
	}
}

func TestZigZagCancel(t *testing.T) {
	arr := BarArrFromCloses(0, 1000, randWalk(100, 1))
	ctx, cancel := context.WithCancel(context.Background())
	visited := 0
	res, err := CalcZigZag(ctx, arr, 2, func(i int) *errs.Error {
		visited += 1
		if i == 9 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cancelled || res.Done != 10 || visited != 10 {
		t.Errorf("expect cancelled after 10 bars, got %+v, visited %v", res, visited)
	}
}

func TestZigZagBadArgs(t *testing.T) {
	arr := BarArrFromCloses(0, 1000, []float64{1, 2, 3})
	_, err := CalcZigZag(context.Background(), arr, 0, nil)
	if err == nil || err.Code != core.ErrBadConfig {
		t.Errorf("expect ErrBadConfig, got %v", err)
	}
}
