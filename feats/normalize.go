package feats

import (
	"context"
	"fmt"
	"math"

	"github.com/banbox/banexg/errs"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/orm"
)

/*
Normalizer 把 [DataLow, DataHigh] 线性映射到 [OutLow, OutHigh]。
超出范围的值默认按同一直线外推，Clamp为true时截断到输出范围
*/
type Normalizer struct {
	DataHigh float64
	DataLow  float64
	OutHigh  float64
	OutLow   float64
	Clamp    bool
}

func NewNormalizer(dataHigh, dataLow, outHigh, outLow float64) *Normalizer {
	return &Normalizer{DataHigh: dataHigh, DataLow: dataLow, OutHigh: outHigh, OutLow: outLow}
}

/*
NormalizerFromStat 以 mean ± 2σ 作为输入范围，输出 [-1, 1]
*/
func NormalizerFromStat(r *orm.RangeStat, clamp bool) *Normalizer {
	band := core.NormBand * r.Std
	return &Normalizer{
		DataHigh: r.Mean + band,
		DataLow:  r.Mean - band,
		OutHigh:  1,
		OutLow:   -1,
		Clamp:    clamp,
	}
}

func (n *Normalizer) Normalize(v float64) float64 {
	span := n.DataHigh - n.DataLow
	if span == 0 {
		return (n.OutHigh + n.OutLow) / 2
	}
	res := (v-n.DataLow)/span*(n.OutHigh-n.OutLow) + n.OutLow
	if n.Clamp {
		res = math.Max(math.Min(res, n.OutHigh), n.OutLow)
	}
	return res
}

func (n *Normalizer) Denormalize(v float64) float64 {
	span := n.OutHigh - n.OutLow
	if span == 0 {
		return (n.DataHigh + n.DataLow) / 2
	}
	return (v-n.OutLow)/span*(n.DataHigh-n.DataLow) + n.DataLow
}

/*
CalcRangeStat 计算一组值的均值、总体标准差和极值，NaN/Inf会被忽略
*/
func CalcRangeStat(name string, vals []float64) *orm.RangeStat {
	clean := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	res := &orm.RangeStat{Name: name, Num: len(clean)}
	if len(clean) == 0 {
		return res
	}
	res.Mean, res.Std = stat.PopMeanStdDev(clean, nil)
	res.Min = floats.Min(clean)
	res.Max = floats.Max(clean)
	return res
}

func SlopeRangeName(k int) string {
	return fmt.Sprintf("slope_%d", k)
}

func SpreadRangeName(i, j int) string {
	return fmt.Sprintf("spread_%d_%d", i, j)
}

func CandleRangeName(feat, size int) string {
	return fmt.Sprintf("%s_%d", orm.ShapeNames[feat], size)
}

/*
CalcBarStats 统计每条均线斜率和每对均线距离在整个序列上的分布，跳过预热期
*/
func CalcBarStats(arr *BarArr, set *AverageSet) ([]*orm.RangeStat, *errs.Error) {
	n := arr.Len()
	numAvg, pairs := set.Len(), set.SpreadPairs()
	slopes := make([][]float64, numAvg)
	spreads := make([][]float64, len(pairs))
	warmUp := set.WarmUp()
	for i := 0; i < n; i++ {
		if len(arr.Slopes[i]) != numAvg || len(arr.Spreads[i]) != len(pairs) {
			return nil, errs.NewMsg(core.ErrInvalidBars, "bar %v has %v slopes and %v spreads, expect %v and %v",
				arr.Times[i], len(arr.Slopes[i]), len(arr.Spreads[i]), numAvg, len(pairs))
		}
		if i < warmUp {
			continue
		}
		for k, v := range arr.Slopes[i] {
			slopes[k] = append(slopes[k], v)
		}
		for p, v := range arr.Spreads[i] {
			spreads[p] = append(spreads[p], v)
		}
	}
	res := make([]*orm.RangeStat, 0, numAvg+len(pairs))
	for k, vals := range slopes {
		res = append(res, CalcRangeStat(SlopeRangeName(k), vals))
	}
	for p, vals := range spreads {
		res = append(res, CalcRangeStat(SpreadRangeName(pairs[p][0], pairs[p][1]), vals))
	}
	return res, nil
}

// RangeSet holds normalizers by range name
type RangeSet struct {
	Clamp bool
	items map[string]*Normalizer
}

func NewRangeSet(stats []*orm.RangeStat, clamp bool) *RangeSet {
	res := &RangeSet{Clamp: clamp, items: make(map[string]*Normalizer, len(stats))}
	for _, r := range stats {
		res.Put(r)
	}
	return res
}

func (s *RangeSet) Put(r *orm.RangeStat) {
	norm := NormalizerFromStat(r, s.Clamp)
	s.items[r.Name] = norm
}

func (s *RangeSet) Get(name string) (*Normalizer, *errs.Error) {
	norm, ok := s.items[name]
	if !ok {
		return nil, errs.NewMsg(core.ErrInvalidBars, "range stat %s not found", name)
	}
	return norm, nil
}

func (s *RangeSet) Len() int {
	return len(s.items)
}

/*
NormalizeBars 填充每根K线的SlopesN和SpreadsN
*/
func NormalizeBars(ctx context.Context, arr *BarArr, set *AverageSet, ranges *RangeSet, visit FnVisit) (*PassRes, *errs.Error) {
	pairs := set.SpreadPairs()
	slopeNorms := make([]*Normalizer, set.Len())
	for k := range slopeNorms {
		norm, err := ranges.Get(SlopeRangeName(k))
		if err != nil {
			return nil, err
		}
		slopeNorms[k] = norm
	}
	spreadNorms := make([]*Normalizer, len(pairs))
	for p, pair := range pairs {
		norm, err := ranges.Get(SpreadRangeName(pair[0], pair[1]))
		if err != nil {
			return nil, err
		}
		spreadNorms[p] = norm
	}
	n := arr.Len()
	res := &PassRes{Total: n}
	for i := 0; i < n; i++ {
		if core.CheckCancel(ctx) {
			res.Cancelled = true
			return res, nil
		}
		if len(arr.Slopes[i]) != len(slopeNorms) || len(arr.Spreads[i]) != len(spreadNorms) {
			return res, errs.NewMsg(core.ErrInvalidBars, "bar %v: slopes/spreads size mismatch", arr.Times[i])
		}
		slopesN := make([]float64, len(slopeNorms))
		for k, v := range arr.Slopes[i] {
			slopesN[k] = slopeNorms[k].Normalize(v)
		}
		spreadsN := make([]float64, len(spreadNorms))
		for p, v := range arr.Spreads[i] {
			spreadsN[p] = spreadNorms[p].Normalize(v)
		}
		arr.SlopesN[i] = slopesN
		arr.SpreadsN[i] = spreadsN
		res.Done = i + 1
		if visit != nil {
			if err := visit(i); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}
