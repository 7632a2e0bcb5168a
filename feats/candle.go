package feats

import (
	"context"
	"math"

	"github.com/banbox/banexg"
	"github.com/banbox/banexg/errs"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/orm"
	"github.com/banbox/banlabel/utils"
)

/*
AggWindow 把[start, stop]区间的K线聚合为一根：开盘取第一根，收盘取最后一根，高低取极值，成交量累加
*/
func AggWindow(arr *BarArr, start, stop int) banexg.Kline {
	res := banexg.Kline{
		Time:  arr.Times[start],
		Open:  arr.Open[start],
		High:  arr.High[start],
		Low:   arr.Low[start],
		Close: arr.Close[stop],
	}
	for i := start; i <= stop; i++ {
		res.High = math.Max(res.High, arr.High[i])
		res.Low = math.Min(res.Low, arr.Low[i])
		res.Volume += arr.Volume[i]
	}
	return res
}

/*
ShapeFeats 计算窗口的5个形状特征，顺序同orm.ShapeNames
*/
func ShapeFeats(k *banexg.Kline, anchorClose float64) [orm.NumShape]float64 {
	var res [orm.NumShape]float64
	res[orm.ShapeRange] = utils.SafeDiv(k.High-k.Low, k.Open, 0)
	height := k.High - k.Low
	if height == 0 {
		res[orm.ShapeBodyFactor] = 0
		res[orm.ShapeBodyPos] = 0.5
	} else {
		res[orm.ShapeBodyFactor] = math.Abs(k.Close-k.Open) / height
		res[orm.ShapeBodyPos] = ((k.Open+k.Close)/2 - k.Low) / height
	}
	res[orm.ShapeRelPos] = utils.SafeDiv(k.Close-anchorClose, anchorClose, 0)
	res[orm.ShapeSign] = float64(utils.NumSign(k.Close - k.Open))
	return res
}

/*
WindowCache 预先计算每种窗口长度在每个结束位置的聚合K线
*/
type WindowCache struct {
	arr    *BarArr
	bySize map[int][]banexg.Kline
}

func NewWindowCache(arr *BarArr, set *AverageSet) (*WindowCache, *errs.Error) {
	res := &WindowCache{arr: arr, bySize: make(map[int][]banexg.Kline)}
	n := arr.Len()
	sizes := make([]int, 0, len(set.Windows()))
	for _, w := range set.Windows() {
		if _, ok := res.bySize[w.Size]; ok {
			continue
		}
		res.bySize[w.Size] = make([]banexg.Kline, n)
		sizes = append(sizes, w.Size)
	}
	// 各窗口长度互不依赖，map已预先分配，协程只写各自的切片
	err := utils.ParallelRun(sizes, core.DefaultWorkers, func(_ int, size int) *errs.Error {
		if size <= 0 {
			return errs.NewMsg(core.ErrBadConfig, "invalid window size: %v", size)
		}
		items := res.bySize[size]
		for end := size - 1; end < n; end++ {
			items[end] = AggWindow(arr, end-size+1, end)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// At returns the window of length size whose last bar is end
func (c *WindowCache) At(size, end int) *banexg.Kline {
	return &c.bySize[size][end]
}

/*
BuildCandles 为锚点anchor生成所有窗口，按(size, order)排列；第j个窗口覆盖
[anchor-(j+1)*size+1, anchor-j*size]。只计算原始特征
*/
func (c *WindowCache) BuildCandles(set *AverageSet, anchor int) []*orm.Candle {
	res := make([]*orm.Candle, 0, set.NumWindows())
	anchorClose := c.arr.Close[anchor]
	for _, w := range set.Windows() {
		for j := 0; j < w.Count; j++ {
			win := c.At(w.Size, anchor-j*w.Size)
			item := &orm.Candle{Kline: *win, Size: w.Size, Order: j}
			item.Time = c.arr.Times[anchor]
			item.Feats = ShapeFeats(win, anchorClose)
			res = append(res, item)
		}
	}
	return res
}

/*
CandleStats 统计所有完整锚点上每种窗口长度每个形状特征的分布，名称如 range_5
*/
func (c *WindowCache) CandleStats(ctx context.Context, set *AverageSet) ([]*orm.RangeStat, bool) {
	n := c.arr.Len()
	first := set.MaxLookback() - 1
	type key struct{ feat, size int }
	vals := make(map[key][]float64)
	sizes := make([]int, 0, set.Len())
	for _, w := range set.Windows() {
		if _, ok := vals[key{0, w.Size}]; !ok {
			sizes = append(sizes, w.Size)
			for f := 0; f < orm.NumShape; f++ {
				vals[key{f, w.Size}] = make([]float64, 0, max(0, n-first)*w.Count)
			}
		}
	}
	for a := first; a < n; a++ {
		if core.CheckCancel(ctx) {
			return nil, true
		}
		for _, cd := range c.BuildCandles(set, a) {
			for f, v := range cd.Feats {
				k := key{f, cd.Size}
				vals[k] = append(vals[k], v)
			}
		}
	}
	res := make([]*orm.RangeStat, 0, len(vals))
	for _, size := range sizes {
		for f := 0; f < orm.NumShape; f++ {
			res = append(res, CalcRangeStat(CandleRangeName(f, size), vals[key{f, size}]))
		}
	}
	return res, false
}

/*
NormalizeCandle 填充FeatsN
*/
func NormalizeCandle(cd *orm.Candle, ranges *RangeSet) *errs.Error {
	for f, v := range cd.Feats {
		norm, err := ranges.Get(CandleRangeName(f, cd.Size))
		if err != nil {
			return err
		}
		cd.FeatsN[f] = norm.Normalize(v)
	}
	return nil
}

/*
CalcCandles 从fromIdx开始为每个锚点生成并归一化窗口，逐个交给emit；
锚点至少为MaxLookback()-1，保证每个窗口都完整。每个锚点处理前检查一次ctx
*/
func CalcCandles(ctx context.Context, cache *WindowCache, set *AverageSet, ranges *RangeSet, fromIdx int,
	emit func(cd *orm.Candle) *errs.Error) (*PassRes, *errs.Error) {
	n := cache.arr.Len()
	start := max(fromIdx, set.MaxLookback()-1)
	res := &PassRes{Total: max(0, n-start)}
	for a := start; a < n; a++ {
		if core.CheckCancel(ctx) {
			res.Cancelled = true
			return res, nil
		}
		for _, cd := range cache.BuildCandles(set, a) {
			if err := NormalizeCandle(cd, ranges); err != nil {
				return res, err
			}
			if err := emit(cd); err != nil {
				return res, err
			}
		}
		res.Done += 1
	}
	return res, nil
}
