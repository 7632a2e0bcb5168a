package feats

import (
	"context"
	"math"
	"testing"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/orm"
	"github.com/banbox/banlabel/utils"
)

func TestNormalizer(t *testing.T) {
	norm := NormalizerFromStat(&orm.RangeStat{Mean: 0, Std: 1}, false)
	cases := []struct {
		in, out float64
	}{
		{0, 0}, {2, 1}, {-2, -1}, {1, 0.5}, {4, 2}, {-6, -3},
	}
	for _, c := range cases {
		if got := norm.Normalize(c.in); !utils.EqualNearly(got, c.out) {
			t.Errorf("normalize %v: got %v, expect %v", c.in, got, c.out)
		}
		if back := norm.Denormalize(c.out); !utils.EqualNearly(back, c.in) {
			t.Errorf("denormalize %v: got %v, expect %v", c.out, back, c.in)
		}
	}
	norm.Clamp = true
	if got := norm.Normalize(4); got != 1 {
		t.Errorf("clamped high: %v", got)
	}
	if got := norm.Normalize(-9); got != -1 {
		t.Errorf("clamped low: %v", got)
	}
	flat := NormalizerFromStat(&orm.RangeStat{Mean: 3, Std: 0}, false)
	if got := flat.Normalize(100); got != 0 {
		t.Errorf("zero std should map to midpoint, got %v", got)
	}
	custom := NewNormalizer(10, 0, 100, 0)
	if got := custom.Normalize(2.5); !utils.EqualNearly(got, 25) {
		t.Errorf("custom range: %v", got)
	}
}

func TestCalcRangeStat(t *testing.T) {
	r := CalcRangeStat("x", []float64{1, 2, math.NaN(), 3, 4, math.Inf(1)})
	if r.Num != 4 || r.Min != 1 || r.Max != 4 {
		t.Errorf("bad stat: %+v", r)
	}
	if !utils.EqualNearly(r.Mean, 2.5) || !utils.EqualNearly(r.Std, math.Sqrt(1.25)) {
		t.Errorf("mean/std wrong: %+v", r)
	}
	empty := CalcRangeStat("e", nil)
	if empty.Num != 0 || empty.Std != 0 {
		t.Errorf("empty stat: %+v", empty)
	}
}

func TestNormalizeBars(t *testing.T) {
	set, _ := NewAverageSet(avgs(2, 4))
	// 前4根是预热期的0，不参与统计
	warm := set.WarmUp()
	arr := BarArrFromCloses(0, 1000, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	for i := range arr.Times {
		if i < warm {
			arr.Slopes[i] = []float64{0, 0}
			arr.Spreads[i] = []float64{0}
			continue
		}
		arr.Slopes[i] = []float64{float64(i - warm), 1}
		arr.Spreads[i] = []float64{float64(warm - i)}
	}
	stats, err := CalcBarStats(arr, set)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 3 || stats[0].Name != "slope_0" || stats[2].Name != "spread_0_1" {
		t.Fatalf("bad stats: %v", len(stats))
	}
	if warm != 4 || stats[0].Num != 4 || stats[1].Min != 1 {
		t.Errorf("warm up rows should be skipped, warm %v stat %+v %+v", warm, stats[0], stats[1])
	}
	ranges := NewRangeSet(stats, false)
	res, err := NormalizeBars(context.Background(), arr, set, ranges, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Done != 8 {
		t.Errorf("done %v", res.Done)
	}
	// mean 1.5, std sqrt(1.25)
	expect := (3 - 1.5) / (2 * math.Sqrt(1.25))
	if !utils.EqualNearly(arr.SlopesN[7][0], expect) {
		t.Errorf("slopeN %v, expect %v", arr.SlopesN[7][0], expect)
	}
	if arr.SlopesN[7][1] != 0 {
		t.Errorf("constant slope should be 0, got %v", arr.SlopesN[7][1])
	}
	if !utils.EqualNearly(arr.SpreadsN[7][0], -expect) {
		t.Errorf("spreadN %v", arr.SpreadsN[7][0])
	}
	arr.Slopes[1] = []float64{1}
	if _, err = CalcBarStats(arr, set); err == nil || err.Code != core.ErrInvalidBars {
		t.Errorf("expect ErrInvalidBars, got %v", err)
	}
	if _, err = NormalizeBars(context.Background(), arr, set, NewRangeSet(nil, false), nil); err == nil {
		t.Error("missing ranges should fail")
	}
}
