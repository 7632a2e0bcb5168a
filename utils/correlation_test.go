package utils

import (
	"math"
	"testing"
)

func TestCalcCorrMat(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10}
	c := []float64{5, 4, 3, 2, 1}
	m, err := CalcCorrMat([][]float64{a, b, c})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		i, j int
		want float64
	}{
		{0, 0, 1},
		{0, 1, 1},
		{0, 2, -1},
		{1, 2, -1},
	}
	for _, c := range cases {
		if got := m.At(c.i, c.j); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("corr(%v,%v) = %v, want %v", c.i, c.j, got, c.want)
		}
	}
	if _, err = CalcCorrMat([][]float64{a}); err == nil {
		t.Error("single series should fail")
	}
	if _, err = CalcCorrMat([][]float64{a, {1, 2}}); err == nil {
		t.Error("length mismatch should fail")
	}
}
