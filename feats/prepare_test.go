package feats

import (
	"context"
	"testing"

	"github.com/banbox/banlabel/utils"
)

func TestCalcAverages(t *testing.T) {
	set, err := NewAverageSet(avgs(2, 4))
	if err != nil {
		t.Fatal(err)
	}
	arr := BarArrFromCloses(1700000000000, 60000, []float64{1, 2, 3, 4, 5, 6})
	res, err := CalcAverages(context.Background(), arr, set, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Done != 6 {
		t.Errorf("done %v", res.Done)
	}
	// 预热期为0
	if arr.Avgs[0][0] != 0 || arr.Avgs[2][1] != 0 || arr.Slopes[0][0] != 0 || arr.Spreads[2][0] != 0 {
		t.Errorf("warm up values should be 0: %v %v %v", arr.Avgs[0], arr.Avgs[2], arr.Spreads[2])
	}
	cases := []struct {
		name        string
		got, expect float64
	}{
		{"sma2", arr.Avgs[3][0], 3.5},
		{"sma4", arr.Avgs[3][1], 2.5},
		{"slope0", arr.Slopes[3][0], (3.5 - 2.5) / 2.5},
		{"slope1", arr.Slopes[4][1], (3.5 - 2.5) / 2.5},
		{"spread", arr.Spreads[3][0], (3.5 - 2.5) / 2.5},
	}
	for _, c := range cases {
		if !utils.EqualNearly(c.got, c.expect) {
			t.Errorf("%s: got %v, expect %v", c.name, c.got, c.expect)
		}
	}
	// 第一次出现有效值时斜率为0
	if arr.Slopes[3][1] != 0 {
		t.Errorf("first slope should be 0, got %v", arr.Slopes[3][1])
	}
}

func TestCalcAveragesSmooth(t *testing.T) {
	set, _ := NewAverageSet([]*AvgDef{{Type: AvgSMA, Period: 2, Smooths: []int{1, 2}}})
	arr := BarArrFromCloses(1700000000000, 60000, []float64{1, 3, 5, 7})
	if _, err := CalcAverages(context.Background(), arr, set, nil); err != nil {
		t.Fatal(err)
	}
	// sma2: _,2,4,6；再做2周期平滑后最后一根为5
	if !utils.EqualNearly(arr.Avgs[3][0], 5) {
		t.Errorf("smoothed avgs %v", arr.Avgs[3])
	}
}
