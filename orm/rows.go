package orm

import (
	"fmt"
	"strings"

	"github.com/banbox/banexg/errs"
)

const (
	barFields     = "time,open,high,low,close,volume,avgs,slopes,slopes_n,spreads,spreads_n,pivot,ref_value,label,label_set,label_edit"
	candleFields  = "time,size,ord,open,high,low,close,volume,feats,feats_n"
	patternFields = "time,label,label_edit,feats"
	rangeFields   = "name,mean,std,min,max,num"
)

// fnArr converts a float slice to the column value used by a driver
type fnArr func(arr []float64) (any, *errs.Error)

/*
barSets 生成更新cols对应列的 "col=$n" 片段和参数，ph返回第n个占位符
*/
func barSets(b *Bar, cols BarCol, enc fnArr, ph func(n int) string) (string, []any, *errs.Error) {
	names := make([]string, 0, 8)
	vals := make([]any, 0, 9)
	addArr := func(name string, arr []float64) *errs.Error {
		v, err := enc(arr)
		if err != nil {
			return err
		}
		names = append(names, name)
		vals = append(vals, v)
		return nil
	}
	if cols.Has(ColAvgs) {
		for _, it := range []struct {
			name string
			arr  []float64
		}{{"avgs", b.Avgs}, {"slopes", b.Slopes}, {"spreads", b.Spreads}} {
			if err := addArr(it.name, it.arr); err != nil {
				return "", nil, err
			}
		}
	}
	if cols.Has(ColPivot) {
		names = append(names, "pivot", "ref_value")
		vals = append(vals, b.Pivot, b.RefValue)
	}
	if cols.Has(ColLabel) {
		names = append(names, "label", "label_set")
		vals = append(vals, b.Label, b.LabelSet)
	}
	if cols.Has(ColNorm) {
		if err := addArr("slopes_n", b.SlopesN); err != nil {
			return "", nil, err
		}
		if err := addArr("spreads_n", b.SpreadsN); err != nil {
			return "", nil, err
		}
	}
	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(ph(i + 1))
	}
	return sb.String(), vals, nil
}

/*
resetSets 把cols对应的列恢复为初始值的 set 片段；emptyArr为空数组列的值
*/
func resetSets(cols BarCol, emptyArr string) string {
	parts := make([]string, 0, 9)
	if cols.Has(ColAvgs) {
		parts = append(parts, "avgs="+emptyArr, "slopes="+emptyArr, "spreads="+emptyArr)
	}
	if cols.Has(ColPivot) {
		parts = append(parts, "pivot=0", "ref_value=close")
	}
	if cols.Has(ColLabel) {
		parts = append(parts, "label=0", "label_set=false")
	}
	if cols.Has(ColNorm) {
		parts = append(parts, "slopes_n="+emptyArr, "spreads_n="+emptyArr)
	}
	return strings.Join(parts, ",")
}

func placeholders(num int, ph func(n int) string) string {
	items := make([]string, num)
	for i := range items {
		items[i] = ph(i + 1)
	}
	return strings.Join(items, ",")
}

func litePh(n int) string {
	return "?"
}

func pgPh(n int) string {
	return fmt.Sprintf("$%d", n)
}
