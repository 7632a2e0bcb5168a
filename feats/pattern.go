package feats

import (
	"slices"

	"github.com/banbox/banexg/errs"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/orm"
)

/*
PatternBuilder 按时间顺序接收归一化后的窗口，同一时间的窗口收齐后与该时间K线的
SlopesN、SpreadsN、Label拼接成一行固定宽度的Pattern
*/
type PatternBuilder struct {
	Set     *AverageSet
	Arr     *BarArr
	Width   int
	Built   int
	out     func(p *orm.Pattern) *errs.Error
	cur     []*orm.Candle
	curTime int64
}

func NewPatternBuilder(set *AverageSet, arr *BarArr, out func(p *orm.Pattern) *errs.Error) *PatternBuilder {
	return &PatternBuilder{
		Set:   set,
		Arr:   arr,
		Width: set.PatternWidth(),
		out:   out,
		cur:   make([]*orm.Candle, 0, set.NumWindows()),
	}
}

/*
Add 输入的窗口时间必须非递减；时间变化时输出上一组
*/
func (b *PatternBuilder) Add(cd *orm.Candle) *errs.Error {
	if len(b.cur) > 0 && cd.Time != b.curTime {
		if cd.Time < b.curTime {
			return errs.NewMsg(core.ErrInvalidBars, "candle time %v before %v", cd.Time, b.curTime)
		}
		if err := b.emit(); err != nil {
			return err
		}
	}
	b.curTime = cd.Time
	b.cur = append(b.cur, cd)
	return nil
}

func (b *PatternBuilder) Finish() *errs.Error {
	if len(b.cur) == 0 {
		return nil
	}
	return b.emit()
}

func (b *PatternBuilder) emit() *errs.Error {
	pat, err := b.Build(b.curTime, b.cur)
	b.cur = b.cur[:0]
	if err != nil {
		return err
	}
	b.Built += 1
	return b.out(pat)
}

/*
Build 拼接：numAvgs个SlopesN + numSpreads个SpreadsN + 每个窗口(size升序, order升序)的5个FeatsN
*/
func (b *PatternBuilder) Build(timeMS int64, candles []*orm.Candle) (*orm.Pattern, *errs.Error) {
	idx := b.Arr.IndexOf(timeMS)
	if idx < 0 {
		return nil, errs.NewMsg(core.ErrMissingBar, "bar not found for pattern at %v", timeMS)
	}
	if len(candles) != b.Set.NumWindows() {
		return nil, errs.NewMsg(core.ErrInvalidBars, "pattern at %v has %v candles, expect %v",
			timeMS, len(candles), b.Set.NumWindows())
	}
	slopesN, spreadsN := b.Arr.SlopesN[idx], b.Arr.SpreadsN[idx]
	if len(slopesN) != b.Set.Len() || len(spreadsN) != b.Set.NumSpreads() {
		return nil, errs.NewMsg(core.ErrInvalidBars, "bar %v is not normalized", timeMS)
	}
	sorted := slices.Clone(candles)
	slices.SortStableFunc(sorted, func(x, y *orm.Candle) int {
		if x.Size != y.Size {
			return x.Size - y.Size
		}
		return x.Order - y.Order
	})
	feats := make([]float64, 0, b.Width)
	feats = append(feats, slopesN...)
	feats = append(feats, spreadsN...)
	for _, cd := range sorted {
		feats = append(feats, cd.FeatsN[:]...)
	}
	return &orm.Pattern{
		Time:      timeMS,
		Label:     b.Arr.Label[idx],
		LabelEdit: b.Arr.Edit[idx],
		Feats:     feats,
	}, nil
}
