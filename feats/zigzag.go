package feats

import (
	"context"

	"github.com/banbox/banexg/errs"

	"github.com/banbox/banlabel/core"
)

/*
CalcZigZag 检测顶底转折点，结果写入arr.Pivot，参考值arr.Ref取收盘价。

第i根K线前后各barsAhead根都有数据时才会判断：向前扫描到上一个转折点(包含)为止，
向后扫描barsAhead根。前后都严格低于它时为顶(+1)，前后都不低于它时为底(-1)。
与上一个转折点同向的候选点被忽略，所以顶底始终交替出现。
每根K线处理前检查一次ctx，取消时返回已处理的数量。
*/
func CalcZigZag(ctx context.Context, arr *BarArr, barsAhead int, visit FnVisit) (*PassRes, *errs.Error) {
	if barsAhead <= 0 {
		return nil, errs.NewMsg(core.ErrBadConfig, "bars_ahead must > 0, got %v", barsAhead)
	}
	n := arr.Len()
	for i := 0; i < n; i++ {
		arr.Pivot[i] = 0
		arr.Ref[i] = arr.Close[i]
	}
	res := &PassRes{Total: n}
	prevIdx, prevPivot := -1, 0
	for i := 0; i < n; i++ {
		if core.CheckCancel(ctx) {
			res.Cancelled = true
			return res, nil
		}
		if i >= barsAhead && i+barsAhead < n {
			pivot, err := pivotAt(arr.Close, i, barsAhead, prevIdx)
			if err != nil {
				return res, err
			}
			if pivot != 0 && pivot != prevPivot {
				arr.Pivot[i] = pivot
				prevIdx, prevPivot = i, pivot
			}
		}
		res.Done = i + 1
		if visit != nil {
			if err := visit(i); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func pivotAt(vals []float64, i, barsAhead, prevIdx int) (int, *errs.Error) {
	v := vals[i]
	topB, botB := true, true
	for j := i - 1; j >= max(0, i-barsAhead); j-- {
		if vals[j] >= v {
			topB = false
		}
		if vals[j] < v {
			botB = false
		}
		if (!topB && !botB) || j == prevIdx {
			break
		}
	}
	topF, botF := true, true
	for j := i + 1; j <= min(len(vals)-1, i+barsAhead); j++ {
		if vals[j] >= v {
			topF = false
		}
		if vals[j] < v {
			botF = false
		}
		if !topF && !botF {
			break
		}
	}
	isTop, isBot := topB && topF, botB && botF
	if isTop && isBot {
		return 0, errs.NewMsg(core.ErrPivotConflict, "bar %v is both top and bottom", i)
	}
	if isTop {
		return 1, nil
	}
	if isBot {
		return -1, nil
	}
	return 0, nil
}
