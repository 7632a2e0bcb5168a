package utils

import (
	"math"
	"testing"
)

func TestSplitSolid(t *testing.T) {
	res := SplitSolid("zigzag, label,,candles ", ",")
	if len(res) != 3 || res[0] != "zigzag" || res[1] != "label" || res[2] != "candles" {
		t.Errorf("split wrong: %v", res)
	}
	if len(SplitSolid("", ",")) != 0 {
		t.Error("empty text should give empty list")
	}
}

func TestDeepCopyMap(t *testing.T) {
	dst := map[string]interface{}{
		"a":   1,
		"db":  map[string]interface{}{"url": "a.db", "max_pool_size": 5},
		"arr": []interface{}{1, 2, 3},
	}
	src := map[string]interface{}{
		"db":  map[string]interface{}{"url": "b.db"},
		"arr": []interface{}{9},
	}
	DeepCopyMap(dst, src)
	db := dst["db"].(map[string]interface{})
	if db["url"] != "b.db" || db["max_pool_size"] != 5 {
		t.Errorf("nested merge wrong: %v", db)
	}
	if arr := dst["arr"].([]interface{}); len(arr) != 1 {
		t.Errorf("list should be replaced: %v", arr)
	}
}

func TestNums(t *testing.T) {
	if NumSign(-0.1) != -1 || NumSign(0) != 0 || NumSign(3) != 1 {
		t.Error("NumSign wrong")
	}
	if SafeNum(math.NaN()) != 0 || SafeNum(math.Inf(1)) != 0 || SafeNum(1.5) != 1.5 {
		t.Error("SafeNum wrong")
	}
	if SafeDiv(1, 0, 7) != 7 || SafeDiv(1, 2, 7) != 0.5 {
		t.Error("SafeDiv wrong")
	}
	if !EqualNearly(0.1+0.2, 0.3) {
		t.Error("EqualNearly wrong")
	}
}

func TestStagedPrg(t *testing.T) {
	p := NewStagedPrg([]string{"a", "b"}, []float64{1, 3})
	p.SetMinInterval(0)
	var last float64
	p.AddTrigger("t", func(task string, rate float64) {
		last = rate
	})
	p.StageCB("a")(1, 2)
	if !EqualNearly(last, 0.125) {
		t.Errorf("expect 0.125, got %v", last)
	}
	p.StageCB("b")(2, 2)
	if !EqualNearly(last, 1) {
		t.Errorf("expect 1, got %v", last)
	}
}

func TestPrgBarCallbacks(t *testing.T) {
	bar := NewPrgBar(10, "test", false)
	var done, total int
	bar.PrgCbs = append(bar.PrgCbs, func(d int, tt int) {
		done, total = d, tt
	})
	bar.Add(4)
	bar.Add(8)
	if done != 10 || total != 10 {
		t.Errorf("progress should be capped: %v/%v", done, total)
	}
	bar.Close()
}
