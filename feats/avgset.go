package feats

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/banbox/banexg/errs"

	"github.com/banbox/banlabel/core"
)

const (
	AvgSMA = "sma"
	AvgEMA = "ema"
	AvgRMA = "rma"
	AvgWMA = "wma"
)

var avgTypes = map[string]bool{AvgSMA: true, AvgEMA: true, AvgRMA: true, AvgWMA: true}

type AvgDef struct {
	Type    string
	Period  int
	Smooths []int
}

/*
AverageSet 按周期升序排列的移动平均线组，后一个周期必须是前一个的整数倍。
第k条均线对应长度为Size(k)的K线窗口，共Count(k)个
*/
type AverageSet struct {
	Items []*AvgDef
}

// Window is the candle window layout of one average
type Window struct {
	Size  int
	Count int
}

func NewAverageSet(defs []*AvgDef) (*AverageSet, *errs.Error) {
	if len(defs) == 0 {
		return nil, errs.NewMsg(core.ErrBadConfig, "at least one average is required")
	}
	items := make([]*AvgDef, 0, len(defs))
	for i, d := range defs {
		if d == nil {
			return nil, errs.NewMsg(core.ErrBadConfig, "average %v is empty", i)
		}
		typ := strings.ToLower(strings.TrimSpace(d.Type))
		if typ == "" {
			typ = AvgSMA
		}
		if !avgTypes[typ] {
			return nil, errs.NewMsg(core.ErrBadConfig, "average %v: unknown type %s", i, d.Type)
		}
		// period 1 would make two averages share window size 1
		if d.Period <= 1 {
			return nil, errs.NewMsg(core.ErrBadConfig, "average %v: period must > 1, got %v", i, d.Period)
		}
		if len(d.Smooths) == 0 {
			return nil, errs.NewMsg(core.ErrBadConfig, "average %v: smooths is empty", i)
		}
		for _, s := range d.Smooths {
			if s <= 0 {
				return nil, errs.NewMsg(core.ErrBadConfig, "average %v: smooth must > 0, got %v", i, s)
			}
		}
		if i > 0 {
			prev := defs[i-1].Period
			if d.Period <= prev {
				return nil, errs.NewMsg(core.ErrBadConfig, "average periods must be ascending, %v after %v", d.Period, prev)
			}
			if d.Period%prev != 0 {
				return nil, errs.NewMsg(core.ErrBadConfig, "average period %v is not a multiple of %v", d.Period, prev)
			}
		}
		items = append(items, &AvgDef{Type: typ, Period: d.Period, Smooths: slices.Clone(d.Smooths)})
	}
	return &AverageSet{Items: items}, nil
}

func (s *AverageSet) Len() int {
	return len(s.Items)
}

func (s *AverageSet) Period(k int) int {
	return s.Items[k].Period
}

/*
Size 第k条均线对应的窗口长度：k=0时为1，否则为前一条均线的周期
*/
func (s *AverageSet) Size(k int) int {
	if k == 0 {
		return 1
	}
	return s.Items[k-1].Period
}

/*
Count 第k条均线对应的窗口数量：(period(k)/size(k)) * (n-k)
*/
func (s *AverageSet) Count(k int) int {
	return s.Items[k].Period / s.Size(k) * (len(s.Items) - k)
}

func (s *AverageSet) Windows() []Window {
	res := make([]Window, len(s.Items))
	for k := range s.Items {
		res[k] = Window{Size: s.Size(k), Count: s.Count(k)}
	}
	return res
}

// NumWindows is the number of candles built for one anchor bar
func (s *AverageSet) NumWindows() int {
	total := 0
	for k := range s.Items {
		total += s.Count(k)
	}
	return total
}

func (s *AverageSet) NumSpreads() int {
	n := len(s.Items)
	return n * (n - 1) / 2
}

/*
SpreadPairs 均线两两组合，顺序 (0,1),(0,2)..(1,2)..
*/
func (s *AverageSet) SpreadPairs() [][2]int {
	n := len(s.Items)
	res := make([][2]int, 0, s.NumSpreads())
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			res = append(res, [2]int{i, j})
		}
	}
	return res
}

func (s *AverageSet) PatternWidth() int {
	return len(s.Items) + s.NumSpreads() + 5*s.NumWindows()
}

/*
WarmUp 所有均线(含平滑)有效且斜率可计算的第一根K线序号，之前的斜率和距离都是预热期的0
*/
func (s *AverageSet) WarmUp() int {
	res := 0
	for _, it := range s.Items {
		num := it.Period - 1
		for _, sm := range it.Smooths {
			if sm > 1 {
				num += sm - 1
			}
		}
		res = max(res, num+1)
	}
	return res
}

/*
MaxLookback 构建一组完整窗口所需的K线数量
*/
func (s *AverageSet) MaxLookback() int {
	res := 1
	for k := range s.Items {
		res = max(res, s.Size(k)*s.Count(k))
	}
	return res
}

/*
Fingerprint 稳定的文本表示，如 "sma:5:1|ema:20:1,3"，保存到meta用于检测均线配置变化
*/
func (s *AverageSet) Fingerprint() string {
	parts := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		smooths := make([]string, len(it.Smooths))
		for i, v := range it.Smooths {
			smooths[i] = strconv.Itoa(v)
		}
		parts = append(parts, fmt.Sprintf("%s:%d:%s", it.Type, it.Period, strings.Join(smooths, ",")))
	}
	return strings.Join(parts, "|")
}
