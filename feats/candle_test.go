package feats

import (
	"context"
	"math"
	"testing"

	"github.com/banbox/banexg"
	"github.com/banbox/banexg/errs"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/orm"
	"github.com/banbox/banlabel/utils"
)

func ohlcArr(n int) *BarArr {
	arr := NewBarArr(n)
	for i := 0; i < n; i++ {
		base := 100 + 3*math.Sin(float64(i)/2)
		arr.Times[i] = int64(i) * 60000
		arr.Open[i] = base
		arr.Close[i] = base + math.Cos(float64(i))
		arr.High[i] = math.Max(arr.Open[i], arr.Close[i]) + float64(i%3)/2
		arr.Low[i] = math.Min(arr.Open[i], arr.Close[i]) - float64(i%4)/3
		arr.Volume[i] = float64(i + 1)
	}
	return arr
}

func TestAggWindowRoundTrip(t *testing.T) {
	arr := ohlcArr(40)
	for _, size := range []int{1, 2, 5, 7} {
		for start := 0; start+size <= arr.Len(); start += 3 {
			stop := start + size - 1
			k := AggWindow(arr, start, stop)
			high, low, vol := math.Inf(-1), math.Inf(1), 0.0
			for i := start; i <= stop; i++ {
				high = math.Max(high, arr.High[i])
				low = math.Min(low, arr.Low[i])
				vol += arr.Volume[i]
			}
			if k.Open != arr.Open[start] || k.Close != arr.Close[stop] || k.High != high || k.Low != low {
				t.Errorf("size %v start %v: bad ohlc %+v", size, start, k)
			}
			if k.Volume != vol || k.Time != arr.Times[start] {
				t.Errorf("size %v start %v: bad volume/time", size, start)
			}
		}
	}
}

func TestShapeFeats(t *testing.T) {
	k := &banexg.Kline{Open: 10, High: 12, Low: 8, Close: 11}
	got := ShapeFeats(k, 10)
	expect := [orm.NumShape]float64{0.4, 0.25, 0.625, 0.1, 1}
	for i := range expect {
		if !utils.EqualNearly(got[i], expect[i]) {
			t.Errorf("%s: got %v, expect %v", orm.ShapeNames[i], got[i], expect[i])
		}
	}
	flat := ShapeFeats(&banexg.Kline{Open: 5, High: 5, Low: 5, Close: 5}, 5)
	if flat != [orm.NumShape]float64{0, 0, 0.5, 0, 0} {
		t.Errorf("flat feats %v", flat)
	}
	down := ShapeFeats(&banexg.Kline{Open: 10, High: 10, Low: 6, Close: 6}, 0)
	if down[orm.ShapeSign] != -1 || down[orm.ShapeRelPos] != 0 || down[orm.ShapeBodyFactor] != 1 {
		t.Errorf("down feats %v", down)
	}
}

func TestBuildCandles(t *testing.T) {
	set, _ := NewAverageSet(avgs(2, 4))
	arr := ohlcArr(30)
	cache, err := NewWindowCache(arr, set)
	if err != nil {
		t.Fatal(err)
	}
	anchor := 12
	candles := cache.BuildCandles(set, anchor)
	if len(candles) != set.NumWindows() {
		t.Fatalf("got %v candles, expect %v", len(candles), set.NumWindows())
	}
	idx := 0
	for _, w := range set.Windows() {
		for j := 0; j < w.Count; j++ {
			cd := candles[idx]
			idx += 1
			if cd.Size != w.Size || cd.Order != j || cd.Time != arr.Times[anchor] {
				t.Errorf("candle %v: bad key %v/%v/%v", idx, cd.Time, cd.Size, cd.Order)
			}
			start, stop := anchor-(j+1)*w.Size+1, anchor-j*w.Size
			win := AggWindow(arr, start, stop)
			if cd.Open != win.Open || cd.Close != win.Close || cd.High != win.High || cd.Low != win.Low {
				t.Errorf("size %v order %v: window mismatch", w.Size, j)
			}
			if cd.Feats != ShapeFeats(&win, arr.Close[anchor]) {
				t.Errorf("size %v order %v: feats mismatch", w.Size, j)
			}
		}
	}
}

func TestCalcCandles(t *testing.T) {
	set, _ := NewAverageSet(avgs(2, 4))
	arr := ohlcArr(30)
	cache, err := NewWindowCache(arr, set)
	if err != nil {
		t.Fatal(err)
	}
	stats, cancelled := cache.CandleStats(context.Background(), set)
	if cancelled {
		t.Fatal("should not cancel")
	}
	// 两种窗口长度 * 5个特征
	if len(stats) != 10 || stats[0].Name != "range_1" || stats[5].Name != "range_2" {
		t.Fatalf("bad candle stats, %v", len(stats))
	}
	ranges := NewRangeSet(stats, false)
	var got []*orm.Candle
	res, err := CalcCandles(context.Background(), cache, set, ranges, 0, func(cd *orm.Candle) *errs.Error {
		got = append(got, cd)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	first := set.MaxLookback() - 1
	if res.Total != 30-first || res.Done != res.Total {
		t.Errorf("bad result %+v", res)
	}
	if len(got) != res.Total*set.NumWindows() {
		t.Errorf("got %v candles", len(got))
	}
	if got[0].Time != arr.Times[first] {
		t.Errorf("first anchor %v", got[0].Time)
	}
	if got[0].FeatsN[orm.ShapeRange] == 0 && got[0].Feats[orm.ShapeRange] != 0 {
		t.Error("candle not normalized")
	}
	// 从后面的锚点继续
	got = got[:0]
	res, err = CalcCandles(context.Background(), cache, set, ranges, 25, func(cd *orm.Candle) *errs.Error {
		got = append(got, cd)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Done != 5 || got[0].Time != arr.Times[25] {
		t.Errorf("resume from 25: %+v", res)
	}
	res, _ = CalcCandles(context.Background(), cache, set, ranges, 30, nil)
	if res.Total != 0 || res.Done != 0 {
		t.Errorf("nothing left should produce nothing: %+v", res)
	}
}

func TestCalcCandlesCancel(t *testing.T) {
	set, _ := NewAverageSet(avgs(2, 4))
	arr := ohlcArr(30)
	cache, err := NewWindowCache(arr, set)
	if err != nil {
		t.Fatal(err)
	}
	stats, _ := cache.CandleStats(context.Background(), set)
	ctx, cancel := context.WithCancel(context.Background())
	num := 0
	res, err := CalcCandles(ctx, cache, set, NewRangeSet(stats, false), 0, func(cd *orm.Candle) *errs.Error {
		num += 1
		if num == set.NumWindows()*2 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cancelled || res.Done != 2 || num != 2*set.NumWindows() {
		t.Errorf("expect 2 anchors before cancel, got %+v, num %v", res, num)
	}
}

func TestWindowCacheBadSize(t *testing.T) {
	// 未经校验的均线组，第二个窗口长度为负
	set := &AverageSet{Items: []*AvgDef{{Type: AvgSMA, Period: -2, Smooths: []int{1}}, {Type: AvgSMA, Period: 4, Smooths: []int{1}}}}
	cache, err := NewWindowCache(ohlcArr(10), set)
	if err == nil || err.Code != core.ErrBadConfig || cache != nil {
		t.Errorf("expect bad config, got %v", err)
	}
}
