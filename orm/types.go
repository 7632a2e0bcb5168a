package orm

import (
	"github.com/banbox/banexg"
)

/*
Bar 一根K线及其派生特征；Avgs/Slopes/Spreads 由上游或prepare阶段写入，
Pivot/RefValue/Label/LabelSet/SlopesN/SpreadsN 由流水线写入
*/
type Bar struct {
	banexg.Kline
	Avgs      []float64 // 每条均线的值
	Slopes    []float64 // 每条均线的斜率
	SlopesN   []float64
	Spreads   []float64 // 均线两两之间的距离，顺序 (0,1),(0,2)..(1,2)..
	SpreadsN  []float64
	Pivot     int // +1 顶点，-1 底点，0 非转折点
	RefValue  float64
	Label     int
	LabelSet  bool
	LabelEdit int // 人工标注，仅透传到Pattern
}

// number of shape features per candle
const NumShape = 5

const (
	ShapeRange = iota
	ShapeBodyFactor
	ShapeBodyPos
	ShapeRelPos
	ShapeSign
)

var ShapeNames = [NumShape]string{"range", "body_factor", "body_pos", "rel_pos", "sign"}

/*
Candle 以Time为锚点，向前第Order个长度为Size的窗口聚合的K线
*/
type Candle struct {
	banexg.Kline
	Size   int
	Order  int
	Feats  [NumShape]float64
	FeatsN [NumShape]float64
}

type Pattern struct {
	Time      int64
	Label     int
	LabelEdit int
	Feats     []float64
}

type RangeStat struct {
	Name string
	Mean float64
	Std  float64
	Min  float64
	Max  float64
	Num  int
}

// BarCol selects which derived columns of Bar an update or reset touches
type BarCol int

const (
	ColAvgs BarCol = 1 << iota
	ColPivot
	ColLabel
	ColNorm
)

const ColAll = ColAvgs | ColPivot | ColLabel | ColNorm

func (c BarCol) Has(o BarCol) bool {
	return c&o != 0
}

/*
ResetBar 把Bar中cols对应的列恢复为初始值；参考值的初始值为收盘价
*/
func ResetBar(b *Bar, cols BarCol) {
	if cols.Has(ColAvgs) {
		b.Avgs, b.Slopes, b.Spreads = nil, nil, nil
	}
	if cols.Has(ColPivot) {
		b.Pivot = 0
		b.RefValue = b.Close
	}
	if cols.Has(ColLabel) {
		b.Label = 0
		b.LabelSet = false
	}
	if cols.Has(ColNorm) {
		b.SlopesN, b.SpreadsN = nil, nil
	}
}

/*
CopyCols 把src中cols对应的列复制到dst
*/
func CopyCols(dst, src *Bar, cols BarCol) {
	if cols.Has(ColAvgs) {
		dst.Avgs, dst.Slopes, dst.Spreads = cloneFloats(src.Avgs), cloneFloats(src.Slopes), cloneFloats(src.Spreads)
	}
	if cols.Has(ColPivot) {
		dst.Pivot = src.Pivot
		dst.RefValue = src.RefValue
	}
	if cols.Has(ColLabel) {
		dst.Label = src.Label
		dst.LabelSet = src.LabelSet
	}
	if cols.Has(ColNorm) {
		dst.SlopesN, dst.SpreadsN = cloneFloats(src.SlopesN), cloneFloats(src.SpreadsN)
	}
}

func (b *Bar) Clone() *Bar {
	res := *b
	res.Avgs = cloneFloats(b.Avgs)
	res.Slopes = cloneFloats(b.Slopes)
	res.SlopesN = cloneFloats(b.SlopesN)
	res.Spreads = cloneFloats(b.Spreads)
	res.SpreadsN = cloneFloats(b.SpreadsN)
	return &res
}

func (p *Pattern) Clone() *Pattern {
	res := *p
	res.Feats = cloneFloats(p.Feats)
	return &res
}

func cloneFloats(arr []float64) []float64 {
	if arr == nil {
		return nil
	}
	res := make([]float64, len(arr))
	copy(res, arr)
	return res
}
