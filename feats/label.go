package feats

import (
	"context"
	"math"

	"github.com/banbox/banexg/errs"

	"github.com/banbox/banlabel/core"
)

/*
CalcLabels 根据转折点为每根K线打标签，要求arr.Pivot和arr.Ref已计算。

对每个转折点i：
  - 自身标签为0
  - 在[上一转折点, i)中，从上一转折点开始找到第一个参考值与i相差不超过 |ref(i)-ref(prev)|*percent/100 的K线，
    它和之后未标注的K线都标为0；若上一转折点已标注，剩余未标注的K线按i的方向标注：顶为+1，底为-1
  - 在(i, 下一转折点]中，从下一转折点向i反向查找，同样把阈值内的过渡区标为0；
    下一转折点此时尚未标注，所以这里不按方向填充

已标注的K线不会被修改。每处理完一个转折点检查一次ctx。
visit对每根K线只在其标签确定时调用一次。
*/
func CalcLabels(ctx context.Context, arr *BarArr, percent float64, visit FnVisit) (*PassRes, *errs.Error) {
	if percent <= 0 || percent >= 50 {
		return nil, errs.NewMsg(core.ErrBadConfig, "label percent must in (0, 50), got %v", percent)
	}
	n := arr.Len()
	pivots := make([]int, 0, n/8)
	for i := 0; i < n; i++ {
		arr.Label[i] = 0
		arr.LabelSet[i] = false
		if arr.Pivot[i] != 0 {
			pivots = append(pivots, i)
		}
	}
	res := &PassRes{Total: n}
	ref, set := arr.Ref, arr.LabelSet
	mark := func(b, label int) *errs.Error {
		if set[b] {
			return nil
		}
		arr.Label[b] = label
		set[b] = true
		if visit != nil {
			return visit(b)
		}
		return nil
	}
	for pi, i := range pivots {
		if core.CheckCancel(ctx) {
			res.Cancelled = true
			return res, nil
		}
		if err := mark(i, 0); err != nil {
			return res, err
		}
		dirt := 1
		if arr.Pivot[i] < 0 {
			dirt = -1
		}
		prev, next := 0, n-1
		if pi > 0 {
			prev = pivots[pi-1]
		}
		if pi+1 < len(pivots) {
			next = pivots[pi+1]
		}
		// 上一转折点到当前转折点
		prevSet := set[prev]
		evalPrev := math.Abs(ref[i]-ref[prev]) * percent / 100
		found := false
		for b := prev; b < i; b++ {
			if set[b] {
				continue
			}
			if found || math.Abs(ref[i]-ref[b]) <= evalPrev {
				found = true
				if err := mark(b, 0); err != nil {
					return res, err
				}
			}
		}
		if prevSet {
			for b := prev; b < i; b++ {
				if err := mark(b, dirt); err != nil {
					return res, err
				}
			}
		}
		// 当前转折点之后的过渡区，从下一转折点反向查找
		evalNext := math.Abs(ref[i]-ref[next]) * percent / 100
		found = false
		for b := next; b > i; b-- {
			if set[b] {
				continue
			}
			if found || math.Abs(ref[i]-ref[b]) <= evalNext {
				found = true
				if err := mark(b, 0); err != nil {
					return res, err
				}
			}
		}
		res.Done = i + 1
	}
	res.Done = n
	return res, nil
}
