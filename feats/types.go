package feats

import (
	"github.com/banbox/banexg/errs"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/orm"
)

/*
BarArr 按列存储的K线序列，流水线各阶段在内存中对它读写，按需回写到存储
*/
type BarArr struct {
	Times    []int64
	Open     []float64
	High     []float64
	Low      []float64
	Close    []float64
	Volume   []float64
	Avgs     [][]float64
	Slopes   [][]float64
	Spreads  [][]float64
	SlopesN  [][]float64
	SpreadsN [][]float64
	Pivot    []int
	Ref      []float64
	Label    []int
	LabelSet []bool
	Edit     []int
	timeIdx  map[int64]int
}

type PassRes struct {
	Done      int
	Total     int
	Cancelled bool
}

// FnVisit is called with the index of a bar whose derived columns were finalized
type FnVisit func(i int) *errs.Error

func NewBarArr(size int) *BarArr {
	return &BarArr{
		Times:    make([]int64, size),
		Open:     make([]float64, size),
		High:     make([]float64, size),
		Low:      make([]float64, size),
		Close:    make([]float64, size),
		Volume:   make([]float64, size),
		Avgs:     make([][]float64, size),
		Slopes:   make([][]float64, size),
		Spreads:  make([][]float64, size),
		SlopesN:  make([][]float64, size),
		SpreadsN: make([][]float64, size),
		Pivot:    make([]int, size),
		Ref:      make([]float64, size),
		Label:    make([]int, size),
		LabelSet: make([]bool, size),
		Edit:     make([]int, size),
	}
}

/*
BarArrFrom 从存储行构建；要求时间严格递增
*/
func BarArrFrom(bars []*orm.Bar) (*BarArr, *errs.Error) {
	res := NewBarArr(len(bars))
	for i, b := range bars {
		if i > 0 && b.Time <= bars[i-1].Time {
			return nil, errs.NewMsg(core.ErrInvalidBars, "bar times must be strictly increasing, %v at %v after %v",
				b.Time, i, bars[i-1].Time)
		}
		res.Times[i] = b.Time
		res.Open[i] = b.Open
		res.High[i] = b.High
		res.Low[i] = b.Low
		res.Close[i] = b.Close
		res.Volume[i] = b.Volume
		res.Avgs[i] = b.Avgs
		res.Slopes[i] = b.Slopes
		res.Spreads[i] = b.Spreads
		res.SlopesN[i] = b.SlopesN
		res.SpreadsN[i] = b.SpreadsN
		res.Pivot[i] = b.Pivot
		res.Ref[i] = b.RefValue
		res.Label[i] = b.Label
		res.LabelSet[i] = b.LabelSet
		res.Edit[i] = b.LabelEdit
	}
	return res, nil
}

/*
BarArrFromCloses 仅用收盘价构建，开高低都等于收盘价
*/
func BarArrFromCloses(startMS, stepMS int64, closes []float64) *BarArr {
	res := NewBarArr(len(closes))
	for i, c := range closes {
		res.Times[i] = startMS + int64(i)*stepMS
		res.Open[i] = c
		res.High[i] = c
		res.Low[i] = c
		res.Close[i] = c
	}
	return res
}

func (a *BarArr) Len() int {
	return len(a.Times)
}

/*
Row 返回第i根K线的存储行，数组字段与BarArr共享
*/
func (a *BarArr) Row(i int) *orm.Bar {
	b := &orm.Bar{
		Avgs:      a.Avgs[i],
		Slopes:    a.Slopes[i],
		SlopesN:   a.SlopesN[i],
		Spreads:   a.Spreads[i],
		SpreadsN:  a.SpreadsN[i],
		Pivot:     a.Pivot[i],
		RefValue:  a.Ref[i],
		Label:     a.Label[i],
		LabelSet:  a.LabelSet[i],
		LabelEdit: a.Edit[i],
	}
	b.Time = a.Times[i]
	b.Open = a.Open[i]
	b.High = a.High[i]
	b.Low = a.Low[i]
	b.Close = a.Close[i]
	b.Volume = a.Volume[i]
	return b
}

/*
IndexOf 按时间查找K线序号，不存在返回-1
*/
func (a *BarArr) IndexOf(timeMS int64) int {
	if a.timeIdx == nil || len(a.timeIdx) != len(a.Times) {
		a.timeIdx = make(map[int64]int, len(a.Times))
		for i, t := range a.Times {
			a.timeIdx[t] = i
		}
	}
	if idx, ok := a.timeIdx[timeMS]; ok {
		return idx
	}
	return -1
}

/*
IndexAfter 返回第一个时间大于timeMS的序号，都不大于时返回Len()
*/
func (a *BarArr) IndexAfter(timeMS int64) int {
	lo, hi := 0, len(a.Times)
	for lo < hi {
		mid := (lo + hi) / 2
		if a.Times[mid] <= timeMS {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
