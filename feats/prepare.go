package feats

import (
	"context"
	"math"

	ta "github.com/banbox/banta"
	"github.com/banbox/banexg/errs"
	utils2 "github.com/banbox/banexg/utils"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/utils"
)

func maSeries(src *ta.Series, def *AvgDef) *ta.Series {
	var res *ta.Series
	switch def.Type {
	case AvgEMA:
		res = ta.EMA(src, def.Period)
	case AvgRMA:
		res = ta.RMA(src, def.Period)
	case AvgWMA:
		res = ta.WMA(src, def.Period)
	default:
		res = ta.SMA(src, def.Period)
	}
	for _, sm := range def.Smooths {
		if sm > 1 {
			res = ta.SMA(res, sm)
		}
	}
	return res
}

/*
CalcAverages 用banta逐根计算均线、斜率和均线间距离，写入arr.Avgs/Slopes/Spreads。
slope = (avg_t - avg_{t-1}) / avg_{t-1}，spread(i,j) = (avg_i - avg_j) / avg_j；预热期的NaN记为0
*/
func CalcAverages(ctx context.Context, arr *BarArr, set *AverageSet, visit FnVisit) (*PassRes, *errs.Error) {
	n := arr.Len()
	res := &PassRes{Total: n}
	if n == 0 {
		return res, nil
	}
	tfMSecs := int64(60000)
	if n > 1 {
		tfMSecs = arr.Times[1] - arr.Times[0]
	}
	env := &ta.BarEnv{
		TimeFrame:  utils2.SecsToTF(int(tfMSecs / 1000)),
		TFMSecs:    tfMSecs,
		Exchange:   "local",
		MarketType: "spot",
	}
	numAvg, pairs := set.Len(), set.SpreadPairs()
	prev := make([]float64, numAvg)
	for i := 0; i < n; i++ {
		if core.CheckCancel(ctx) {
			res.Cancelled = true
			return res, nil
		}
		err_ := env.OnBar(arr.Times[i], arr.Open[i], arr.High[i], arr.Low[i], arr.Close[i], arr.Volume[i], 0)
		if err_ != nil {
			return res, errs.NewFull(core.ErrInvalidBars, err_, "feed bar %v fail", arr.Times[i])
		}
		avgs := make([]float64, numAvg)
		slopes := make([]float64, numAvg)
		for k, def := range set.Items {
			v := maSeries(env.Close, def).Get(0)
			if math.IsNaN(v) {
				v = 0
			}
			avgs[k] = v
			if v != 0 {
				slopes[k] = utils.SafeDiv(v-prev[k], prev[k], 0)
			}
			prev[k] = v
		}
		spreads := make([]float64, len(pairs))
		for p, pair := range pairs {
			if avgs[pair[0]] != 0 {
				spreads[p] = utils.SafeDiv(avgs[pair[0]]-avgs[pair[1]], avgs[pair[1]], 0)
			}
		}
		arr.Avgs[i] = avgs
		arr.Slopes[i] = slopes
		arr.Spreads[i] = spreads
		res.Done = i + 1
		if visit != nil {
			if err := visit(i); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}
