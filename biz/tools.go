package biz

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banexg/log"
	"github.com/olekukonko/tablewriter"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/orm"
	"github.com/banbox/banlabel/utils"
)

type csvCols struct {
	time, open, high, low, close, volume, edit int
	avgs, slopes, spreads                      []int
}

var defCsvCols = &csvCols{time: 0, open: 1, high: 2, low: 3, close: 4, volume: 5, edit: 6}

/*
parseCsvHeader 按列名定位；avg_/slope_/spread_ 开头的列按出现顺序作为上游指标
*/
func parseCsvHeader(head []string) (*csvCols, *errs.Error) {
	res := &csvCols{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1, edit: -1}
	for i, name := range head {
		name = strings.ToLower(strings.TrimSpace(name))
		switch {
		case name == "time" || name == "date" || name == "timestamp":
			res.time = i
		case name == "open":
			res.open = i
		case name == "high":
			res.high = i
		case name == "low":
			res.low = i
		case name == "close":
			res.close = i
		case name == "volume":
			res.volume = i
		case name == "label_edit" || name == "edit":
			res.edit = i
		case strings.HasPrefix(name, "avg_"):
			res.avgs = append(res.avgs, i)
		case strings.HasPrefix(name, "slope_"):
			res.slopes = append(res.slopes, i)
		case strings.HasPrefix(name, "spread_"):
			res.spreads = append(res.spreads, i)
		}
	}
	if res.time < 0 || res.open < 0 || res.high < 0 || res.low < 0 || res.close < 0 {
		return nil, errs.NewMsg(core.ErrInvalidBars, "csv header requires time,open,high,low,close: %v", head)
	}
	return res, nil
}

/*
parseBarTime 支持13位毫秒、10位秒和 2006-01-02 15:04:05 (UTC)
*/
func parseBarTime(text string) (int64, *errs.Error) {
	text = strings.TrimSpace(text)
	if val, err_ := strconv.ParseInt(text, 10, 64); err_ == nil {
		if val < 1e11 {
			val *= 1000
		}
		return val, nil
	}
	t, err_ := time.ParseInLocation(core.DefaultDateFmt, text, time.UTC)
	if err_ != nil {
		return 0, errs.NewFull(core.ErrInvalidBars, err_, "invalid bar time: %s", text)
	}
	return t.UnixMilli(), nil
}

func parseCsvBar(row []string, cols *csvCols) (*orm.Bar, *errs.Error) {
	var err *errs.Error
	getFloat := func(idx int) float64 {
		if idx < 0 || idx >= len(row) || err != nil {
			return 0
		}
		val, err_ := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
		if err_ != nil {
			err = errs.NewFull(core.ErrInvalidBars, err_, "invalid number at col %v: %s", idx, row[idx])
		}
		return val
	}
	getArr := func(idxs []int) []float64 {
		if len(idxs) == 0 {
			return nil
		}
		res := make([]float64, len(idxs))
		for i, idx := range idxs {
			res[i] = getFloat(idx)
		}
		return res
	}
	// 时间和OHLC必须存在，成交量和标签列可缺省
	if max(cols.time, cols.open, cols.high, cols.low, cols.close) >= len(row) {
		return nil, errs.NewMsg(core.ErrInvalidBars, "csv row too short, need time,open,high,low,close: %v", row)
	}
	b := &orm.Bar{}
	b.Time, err = parseBarTime(row[cols.time])
	if err != nil {
		return nil, err
	}
	b.Open = getFloat(cols.open)
	b.High = getFloat(cols.high)
	b.Low = getFloat(cols.low)
	b.Close = getFloat(cols.close)
	b.Volume = getFloat(cols.volume)
	b.LabelEdit = int(getFloat(cols.edit))
	b.Avgs = getArr(cols.avgs)
	b.Slopes = getArr(cols.slopes)
	b.Spreads = getArr(cols.spreads)
	b.RefValue = b.Close
	return b, err
}

/*
LoadBarsCsv 从csv导入K线到存储，已存在的时间会被覆盖。首行不是数字时作为表头按列名解析，
否则按 time,open,high,low,close,volume[,label_edit] 的顺序
*/
func LoadBarsCsv(ctx context.Context, store orm.Store, path string, batchSize int) (int, *errs.Error) {
	if info, err_ := os.Stat(path); err_ != nil || info.IsDir() {
		return 0, errs.NewMsg(core.ErrInvalidPath, "csv file not found: %s", path)
	}
	rows, err := utils.ReadCsvFile(path)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	cols := defCsvCols
	lineNo := 1
	if _, err_ := strconv.ParseFloat(strings.TrimSpace(rows[0][0]), 64); err_ != nil {
		if _, err = parseBarTime(rows[0][0]); err != nil {
			cols, err = parseCsvHeader(rows[0])
			if err != nil {
				return 0, err
			}
			rows = rows[1:]
			lineNo = 2
		}
	}
	q := utils.NewBatchQueue[*orm.Bar](batchSize, 0, 0, func(ctx context.Context, items []*orm.Bar) *errs.Error {
		return store.InsertBars(ctx, items)
	})
	for i, row := range rows {
		if core.CheckCancel(ctx) {
			break
		}
		b, err := parseCsvBar(row, cols)
		if err != nil {
			return q.Flushed, errs.NewMsg(err.Code, "line %v: %s", i+lineNo, err.Short())
		}
		if err = q.Add(ctx, b); err != nil {
			return q.Flushed, err
		}
	}
	if err = q.Flush(ctx); err != nil {
		return q.Flushed, err
	}
	log.Info("bars loaded from csv", zap.String("path", path), zap.Int("num", q.Flushed))
	return q.Flushed, nil
}

/*
ExportPatterns 导出全部Pattern；.csv 后缀写csv，其他写xlsx
*/
func ExportPatterns(ctx context.Context, store orm.Store, path string) (int, *errs.Error) {
	pats, err := store.ListPatterns(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	width := 0
	if len(pats) > 0 {
		width = len(pats[0].Feats)
	}
	head := []string{"time", "date", "label", "label_edit"}
	for i := 0; i < width; i++ {
		head = append(head, fmt.Sprintf("f%d", i))
	}
	dir := filepath.Dir(path)
	if err_ := utils.EnsureDir(dir, 0755); err_ != nil {
		return 0, errs.New(core.ErrIOWriteFail, err_)
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		rows := make([][]string, 0, len(pats)+1)
		rows = append(rows, head)
		for _, p := range pats {
			row := []string{strconv.FormatInt(p.Time, 10), fmtDate(p.Time), strconv.Itoa(p.Label), strconv.Itoa(p.LabelEdit)}
			for _, v := range p.Feats {
				row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
			}
			rows = append(rows, row)
		}
		if err = utils.WriteCsvFile(path, rows); err != nil {
			return 0, err
		}
		return len(pats), nil
	}
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Sheet1"
	headRow := make([]interface{}, len(head))
	for i, h := range head {
		headRow[i] = h
	}
	if err_ := f.SetSheetRow(sheet, "A1", &headRow); err_ != nil {
		return 0, errs.New(core.ErrIOWriteFail, err_)
	}
	for i, p := range pats {
		row := make([]interface{}, 0, len(head))
		row = append(row, p.Time, fmtDate(p.Time), p.Label, p.LabelEdit)
		for _, v := range p.Feats {
			row = append(row, v)
		}
		cell, err_ := excelize.CoordinatesToCellName(1, i+2)
		if err_ != nil {
			return 0, errs.New(core.ErrIOWriteFail, err_)
		}
		if err_ = f.SetSheetRow(sheet, cell, &row); err_ != nil {
			return 0, errs.New(core.ErrIOWriteFail, err_)
		}
	}
	if err_ := f.SaveAs(path); err_ != nil {
		return 0, errs.New(core.ErrIOWriteFail, err_)
	}
	log.Info("patterns exported", zap.String("path", path), zap.Int("num", len(pats)))
	return len(pats), nil
}

func fmtDate(timeMS int64) string {
	return time.UnixMilli(timeMS).UTC().Format(core.DefaultDateFmt)
}

/*
PrintRanges 以表格输出保存的分布统计
*/
func PrintRanges(ctx context.Context, store orm.Store, w io.Writer) *errs.Error {
	stats, err := store.GetRanges(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Mean", "Std", "Min", "Max", "Num"})
	fmtNum := func(v float64) string {
		return strconv.FormatFloat(v, 'g', 6, 64)
	}
	for _, r := range stats {
		table.Append([]string{r.Name, fmtNum(r.Mean), fmtNum(r.Std), fmtNum(r.Min), fmtNum(r.Max), strconv.Itoa(r.Num)})
	}
	table.Render()
	return nil
}

/*
PrintLabelCorr 计算每个样本特征与标签的相关系数，按绝对值降序输出前topN项；topN<=0时全部输出
*/
func PrintLabelCorr(ctx context.Context, store orm.Store, w io.Writer, topN int) *errs.Error {
	pats, err := store.ListPatterns(ctx, 0, 0)
	if err != nil {
		return err
	}
	if len(pats) < 2 {
		log.Warn("not enough patterns for correlation", zap.Int("num", len(pats)))
		return nil
	}
	numFeat := len(pats[0].Feats)
	cols := make([][]float64, numFeat+1)
	for i := range cols {
		cols[i] = make([]float64, len(pats))
	}
	for r, p := range pats {
		if len(p.Feats) != numFeat {
			return errs.NewMsg(core.ErrInvalidBars, "pattern %v has %v feats, expect %v", p.Time, len(p.Feats), numFeat)
		}
		cols[0][r] = float64(p.Label)
		for j, v := range p.Feats {
			cols[j+1][r] = v
		}
	}
	corrMat, err := utils.CalcCorrMat(cols)
	if err != nil {
		return err
	}
	type featCorr struct {
		name string
		val  float64
	}
	items := make([]featCorr, 0, numFeat)
	for j := 0; j < numFeat; j++ {
		v := utils.SafeNum(corrMat.At(0, j+1))
		items = append(items, featCorr{name: fmt.Sprintf("f%d", j), val: v})
	}
	slices.SortStableFunc(items, func(a, b featCorr) int {
		return cmp.Compare(math.Abs(b.val), math.Abs(a.val))
	})
	if topN > 0 && len(items) > topN {
		items = items[:topN]
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Feature", "Corr"})
	for _, it := range items {
		table.Append([]string{it.name, strconv.FormatFloat(it.val, 'f', 4, 64)})
	}
	table.Render()
	return nil
}
