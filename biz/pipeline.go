package biz

import (
	"context"
	"fmt"
	"slices"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banexg/log"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/banbox/banlabel/config"
	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/feats"
	"github.com/banbox/banlabel/orm"
	"github.com/banbox/banlabel/utils"
)

/*
StageResult 单个阶段的执行结果。Watermark为本阶段已提交的最大K线时间，没有时为-1
*/
type StageResult struct {
	Stage     string
	Done      int
	Total     int
	Watermark int64
	Cancelled bool
	Written   int // 写入存储的行数
}

type FnStagePrg func(stage string, done, total int)

/*
Pipeline 在内存中的K线数组上依次执行各阶段，结果通过BatchQueue批量写回Store
*/
type Pipeline struct {
	Store      orm.Store
	Set        *feats.AverageSet
	Arr        *feats.BarArr
	BarsAhead  int
	PctCalc    float64
	PctEdit    float64
	EditMode   bool // 使用PctEdit计算标签
	Clamp      bool
	Prepare    bool
	Force      bool
	ShowPrg    bool
	BatchSize  int
	ChunkSize  int
	Workers    int
	RunID      string
	OnProgress FnStagePrg

	prg     *utils.StagedPrg
	windows *feats.WindowCache
}

var stageWeights = map[string]float64{
	core.StagePrepare:  1,
	core.StageZigZag:   1,
	core.StageLabel:    1,
	core.StageRanges:   2,
	core.StageCandles:  3,
	core.StagePatterns: 2,
}

/*
NewPipeline 使用已加载的配置创建流水线，并做运行前检查
*/
func NewPipeline(store orm.Store) (*Pipeline, *errs.Error) {
	defs := make([]*feats.AvgDef, 0, len(config.Averages))
	for _, a := range config.Averages {
		if a == nil {
			continue
		}
		defs = append(defs, &feats.AvgDef{Type: a.Type, Period: a.Period, Smooths: a.Smooths})
	}
	set, err := feats.NewAverageSet(defs)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		Store:     store,
		Set:       set,
		BarsAhead: config.BarsAhead,
		PctCalc:   config.PercentCalc,
		PctEdit:   config.PercentEdit,
		Clamp:     config.ClampNorm,
		Prepare:   config.Prepare,
		BatchSize: config.BatchSize,
		ChunkSize: config.ChunkSize,
		Workers:   config.Workers,
		RunID:     core.RunID,
	}
	if args := config.Args; args != nil {
		p.Force = args.Force
		p.ShowPrg = args.ShowPrg
		p.EditMode = args.EditMode
	}
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	if err = p.Check(); err != nil {
		return nil, err
	}
	return p, nil
}

/*
Check 在读写任何行之前检查参数
*/
func (p *Pipeline) Check() *errs.Error {
	if p.Store == nil {
		return errs.NewMsg(core.ErrBadConfig, "store is required")
	}
	if p.Set == nil {
		return errs.NewMsg(core.ErrBadConfig, "average set is required")
	}
	if p.BarsAhead <= 0 {
		return errs.NewMsg(core.ErrBadConfig, "bars_ahead must > 0, got %v", p.BarsAhead)
	}
	if p.PctCalc <= 0 || p.PctCalc >= 50 {
		return errs.NewMsg(core.ErrBadConfig, "percent_calc must in (0, 50), got %v", p.PctCalc)
	}
	if p.PctEdit <= 0 || p.PctEdit >= 50 {
		return errs.NewMsg(core.ErrBadConfig, "percent_edit must in (0, 50), got %v", p.PctEdit)
	}
	return nil
}

/*
Load 一次性读取全部K线到内存，并检查均线组是否变化：变化或指定-force时清空派生数据
*/
func (p *Pipeline) Load(ctx context.Context) *errs.Error {
	bars, err := p.Store.ListBars(ctx, 0, 0)
	if err != nil {
		return err
	}
	arr, err := feats.BarArrFrom(bars)
	if err != nil {
		return err
	}
	p.Arr = arr
	p.windows = nil
	fp := p.Set.Fingerprint()
	old, err := p.Store.GetMeta(ctx, core.MetaAvgSet)
	if err != nil {
		return err
	}
	if old != fp || p.Force {
		if old != "" || p.Force {
			log.Warn("purge derived rows", zap.String("run_id", p.RunID), zap.String("old", old),
				zap.String("new", fp), zap.Bool("force", p.Force))
			if err = p.Store.PurgeDerived(ctx); err != nil {
				return err
			}
			core.DelCacheVal(p.rangeCacheKey(old))
			core.DelCacheVal(p.rangeCacheKey(fp))
		}
		if err = p.Store.SetMeta(ctx, core.MetaAvgSet, fp); err != nil {
			return err
		}
	}
	log.Info("bars loaded", zap.String("run_id", p.RunID), zap.Int("num", arr.Len()), zap.String("avg_set", fp))
	return p.Store.SetMeta(ctx, core.MetaRunID, p.RunID)
}

/*
ResolveStages 返回按执行顺序排列且去重的阶段；为空时执行全部，prepare仅在配置开启时加入
*/
func (p *Pipeline) ResolveStages(stages []string) ([]string, *errs.Error) {
	if len(stages) == 0 {
		res := make([]string, 0, len(core.StageNames))
		for _, name := range core.StageNames {
			if name == core.StagePrepare && !p.Prepare {
				continue
			}
			res = append(res, name)
		}
		return res, nil
	}
	res := make([]string, 0, len(stages))
	for _, name := range core.StageNames {
		if slices.Contains(stages, name) {
			res = append(res, name)
		}
	}
	for _, name := range stages {
		if !slices.Contains(core.StageNames, name) {
			return nil, errs.NewMsg(core.ErrBadConfig, "unknown stage: %s, valid: %v", name, core.StageNames)
		}
	}
	return res, nil
}

/*
Run 按顺序执行阶段，后一阶段只在前一阶段完整提交后开始；取消时停止并返回已执行阶段的结果
*/
func (p *Pipeline) Run(ctx context.Context, stages []string) ([]*StageResult, *errs.Error) {
	stages, err := p.ResolveStages(stages)
	if err != nil {
		return nil, err
	}
	if p.Arr == nil {
		if err = p.Load(ctx); err != nil {
			return nil, err
		}
	}
	if p.Arr.Len() == 0 {
		log.Warn("no bars to process", zap.String("run_id", p.RunID))
		return nil, nil
	}
	weights := make([]float64, len(stages))
	for i, name := range stages {
		weights[i] = stageWeights[name]
	}
	p.prg = utils.NewStagedPrg(stages, weights)
	p.prg.SetMinInterval(1000)
	p.prg.AddTrigger("log", func(task string, rate float64) {
		log.Debug("progress", zap.String("stage", task), zap.Float64("rate", rate))
	})
	defer func() {
		p.prg = nil
	}()
	results := make([]*StageResult, 0, len(stages))
	// 本次已执行窗口阶段时，模式阶段直接使用其返回的水位
	var candleWM *int64
	for _, stage := range stages {
		if core.CheckCancel(ctx) {
			log.Warn("cancelled before stage", zap.String("run_id", p.RunID), zap.String("stage", stage))
			break
		}
		res, err := p.runStage(ctx, stage, candleWM)
		if err != nil {
			log.Error("stage fail", zap.String("run_id", p.RunID), zap.String("stage", stage), zap.Error(err))
			return results, err
		}
		results = append(results, res)
		if stage == core.StageCandles {
			wm := res.Watermark
			candleWM = &wm
		}
		log.Info("stage done", zap.String("run_id", p.RunID), zap.String("stage", stage),
			zap.Int("done", res.Done), zap.Int("total", res.Total), zap.Int("written", res.Written),
			zap.Int64("watermark", res.Watermark), zap.Bool("cancelled", res.Cancelled))
		if res.Cancelled {
			break
		}
	}
	return results, nil
}

/*
RunStage 执行单个阶段；candles和patterns从存储中读取上次的水位继续
*/
func (p *Pipeline) RunStage(ctx context.Context, stage string) (*StageResult, *errs.Error) {
	return p.runStage(ctx, stage, nil)
}

func (p *Pipeline) runStage(ctx context.Context, stage string, candleWM *int64) (*StageResult, *errs.Error) {
	if p.Arr == nil {
		return nil, errs.NewMsg(core.ErrRunTime, "bars not loaded")
	}
	switch stage {
	case core.StagePrepare:
		return p.RunPrepare(ctx)
	case core.StageZigZag:
		return p.RunZigZag(ctx)
	case core.StageLabel:
		return p.RunLabel(ctx)
	case core.StageRanges:
		return p.RunRanges(ctx)
	case core.StageCandles:
		wm, err := p.Store.MaxCandleTime(ctx)
		if err != nil {
			return nil, err
		}
		return p.RunCandles(ctx, wm)
	case core.StagePatterns:
		pw, err := p.Store.MaxPatternTime(ctx)
		if err != nil {
			return nil, err
		}
		if candleWM != nil {
			return p.RunPatterns(ctx, pw, *candleWM)
		}
		cw, err := p.Store.MaxCandleTime(ctx)
		if err != nil {
			return nil, err
		}
		return p.RunPatterns(ctx, pw, cw)
	default:
		return nil, errs.NewMsg(core.ErrBadConfig, "unknown stage: %s", stage)
	}
}

/*
RunPrepare 用banta计算均线、斜率和距离，写回全部K线
*/
func (p *Pipeline) RunPrepare(ctx context.Context) (*StageResult, *errs.Error) {
	arr := p.Arr
	q := p.barQueue(orm.ColAvgs)
	prg := p.newPrg(core.StagePrepare, arr.Len())
	defer prg.Close()
	res, err := feats.CalcAverages(ctx, arr, p.Set, func(i int) *errs.Error {
		prg.Set(i + 1)
		return q.Add(ctx, arr.Row(i))
	})
	if err != nil {
		return nil, err
	}
	if err = q.Flush(ctx); err != nil {
		return nil, err
	}
	// 均线变化后归一化窗口需要重建
	p.windows = nil
	return p.barResult(core.StagePrepare, res, q.Flushed), nil
}

/*
RunZigZag 先把所有K线的pivot重置，再完整重算；只有转折点需要写回
*/
func (p *Pipeline) RunZigZag(ctx context.Context) (*StageResult, *errs.Error) {
	arr := p.Arr
	if err := p.Store.ResetBars(ctx, orm.ColPivot, 0); err != nil {
		return nil, err
	}
	q := p.barQueue(orm.ColPivot)
	prg := p.newPrg(core.StageZigZag, arr.Len())
	defer prg.Close()
	res, err := feats.CalcZigZag(ctx, arr, p.BarsAhead, func(i int) *errs.Error {
		prg.Set(i + 1)
		if arr.Pivot[i] == 0 {
			return nil
		}
		return q.Add(ctx, arr.Row(i))
	})
	if err != nil {
		return nil, err
	}
	if err = q.Flush(ctx); err != nil {
		return nil, err
	}
	return p.barResult(core.StageZigZag, res, q.Flushed), nil
}

/*
RunLabel 重置标签后根据转折点重新标注，每根K线标签确定时写回
*/
func (p *Pipeline) RunLabel(ctx context.Context) (*StageResult, *errs.Error) {
	arr := p.Arr
	percent := p.PctCalc
	if p.EditMode {
		percent = p.PctEdit
	}
	if err := p.Store.ResetBars(ctx, orm.ColLabel, 0); err != nil {
		return nil, err
	}
	q := p.barQueue(orm.ColLabel)
	prg := p.newPrg(core.StageLabel, arr.Len())
	defer prg.Close()
	marked := 0
	res, err := feats.CalcLabels(ctx, arr, percent, func(i int) *errs.Error {
		marked += 1
		prg.Set(marked)
		return q.Add(ctx, arr.Row(i))
	})
	if err != nil {
		return nil, err
	}
	if err = q.Flush(ctx); err != nil {
		return nil, err
	}
	if !res.Cancelled {
		prg.Set(res.Done)
	}
	return p.barResult(core.StageLabel, res, q.Flushed), nil
}

/*
RunRanges 首次运行时统计斜率、距离和窗口形状特征的分布并保存；然后归一化所有K线的斜率和距离
*/
func (p *Pipeline) RunRanges(ctx context.Context) (*StageResult, *errs.Error) {
	arr := p.Arr
	ranges, cancelled, err := p.loadRanges(ctx, true)
	if err != nil {
		return nil, err
	}
	if cancelled {
		return &StageResult{Stage: core.StageRanges, Total: arr.Len(), Watermark: -1, Cancelled: true}, nil
	}
	q := p.barQueue(orm.ColNorm)
	prg := p.newPrg(core.StageRanges, arr.Len())
	defer prg.Close()
	res, err := feats.NormalizeBars(ctx, arr, p.Set, ranges, func(i int) *errs.Error {
		prg.Set(i + 1)
		return q.Add(ctx, arr.Row(i))
	})
	if err != nil {
		return nil, err
	}
	if err = q.Flush(ctx); err != nil {
		return nil, err
	}
	return p.barResult(core.StageRanges, res, q.Flushed), nil
}

/*
RunCandles 从watermark之后的第一根K线开始生成窗口。同一锚点的窗口总是在同一个写入块中，
所以提交后的最大时间就是下次继续的位置
*/
func (p *Pipeline) RunCandles(ctx context.Context, watermark int64) (*StageResult, *errs.Error) {
	arr := p.Arr
	ranges, _, err := p.loadRanges(ctx, false)
	if err != nil {
		return nil, err
	}
	nw := p.Set.NumWindows()
	chunk := max(1, p.ChunkSize/nw) * nw
	q := utils.NewBatchQueue[*orm.Candle](p.BatchSize, chunk, p.Workers, func(ctx context.Context, rows []*orm.Candle) *errs.Error {
		return p.Store.InsertCandles(ctx, rows)
	})
	fromIdx := arr.IndexAfter(watermark)
	start := max(fromIdx, p.Set.MaxLookback()-1)
	prg := p.newPrg(core.StageCandles, max(0, arr.Len()-start))
	defer prg.Close()
	group := make([]*orm.Candle, 0, nw)
	anchors := 0
	cache, err := p.windowCache()
	if err != nil {
		return nil, err
	}
	res, err := feats.CalcCandles(ctx, cache, p.Set, ranges, fromIdx, func(cd *orm.Candle) *errs.Error {
		group = append(group, cd)
		if len(group) < nw {
			return nil
		}
		if err := q.Add(ctx, group...); err != nil {
			return err
		}
		group = group[:0]
		anchors += 1
		prg.Set(anchors)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err = q.Flush(ctx); err != nil {
		return nil, err
	}
	wm := watermark
	if res.Done > 0 {
		wm = arr.Times[start+res.Done-1]
	}
	return &StageResult{
		Stage:     core.StageCandles,
		Done:      res.Done,
		Total:     res.Total,
		Watermark: wm,
		Cancelled: res.Cancelled,
		Written:   q.Flushed,
	}, nil
}

/*
RunPatterns 为时间在 (watermark, candleWM] 内的锚点拼接Pattern，不会超过窗口阶段已提交的水位。
按页读取窗口，在时间变化处检查取消，取消时仍输出已收齐的一组
*/
func (p *Pipeline) RunPatterns(ctx context.Context, watermark, candleWM int64) (*StageResult, *errs.Error) {
	arr := p.Arr
	startIdx := max(arr.IndexAfter(watermark), p.Set.MaxLookback()-1)
	stopIdx := arr.IndexAfter(candleWM)
	total := max(0, stopIdx-startIdx)
	result := &StageResult{Stage: core.StagePatterns, Total: total, Watermark: watermark}
	if total == 0 {
		return result, nil
	}
	q := utils.NewBatchQueue[*orm.Pattern](p.BatchSize, p.ChunkSize, p.Workers, func(ctx context.Context, rows []*orm.Pattern) *errs.Error {
		return p.Store.InsertPatterns(ctx, rows)
	})
	prg := p.newPrg(core.StagePatterns, total)
	defer prg.Close()
	lastTime := watermark
	var builder *feats.PatternBuilder
	builder = feats.NewPatternBuilder(p.Set, arr, func(pat *orm.Pattern) *errs.Error {
		prg.Set(builder.Built)
		lastTime = pat.Time
		return q.Add(ctx, pat)
	})
	page := max(1, p.BatchSize/p.Set.NumWindows())
	cancelled := false
	for a := startIdx; a < stopIdx && !cancelled; a += page {
		if core.CheckCancel(ctx) {
			cancelled = true
			break
		}
		end := min(a+page, stopIdx)
		stopMS := candleWM + 1
		if end < stopIdx {
			stopMS = arr.Times[end]
		}
		cds, err := p.Store.ListCandles(ctx, arr.Times[a], stopMS)
		if err != nil {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			return nil, err
		}
		curTime := int64(-1)
		for _, cd := range cds {
			if cd.Time != curTime {
				if core.CheckCancel(ctx) {
					cancelled = true
					break
				}
				curTime = cd.Time
			}
			if err = builder.Add(cd); err != nil {
				return nil, err
			}
		}
	}
	if err := builder.Finish(); err != nil {
		return nil, err
	}
	if err := q.Flush(ctx); err != nil {
		return nil, err
	}
	result.Done = builder.Built
	result.Watermark = lastTime
	result.Cancelled = cancelled
	result.Written = q.Flushed
	return result, nil
}

func (p *Pipeline) barQueue(cols orm.BarCol) *utils.BatchQueue[*orm.Bar] {
	return utils.NewBatchQueue[*orm.Bar](p.BatchSize, p.ChunkSize, p.Workers, func(ctx context.Context, rows []*orm.Bar) *errs.Error {
		return p.Store.UpdateBars(ctx, rows, cols)
	})
}

func (p *Pipeline) barResult(stage string, res *feats.PassRes, written int) *StageResult {
	wm := int64(-1)
	if res.Done > 0 {
		wm = p.Arr.Times[res.Done-1]
	}
	return &StageResult{
		Stage:     stage,
		Done:      res.Done,
		Total:     res.Total,
		Watermark: wm,
		Cancelled: res.Cancelled,
		Written:   written,
	}
}

func (p *Pipeline) windowCache() (*feats.WindowCache, *errs.Error) {
	if p.windows == nil {
		cache, err := feats.NewWindowCache(p.Arr, p.Set)
		if err != nil {
			return nil, err
		}
		p.windows = cache
	}
	return p.windows, nil
}

// ranges are cached per run, different runs may use different stores
func (p *Pipeline) rangeCacheKey(fingerprint string) string {
	return "ranges_" + p.RunID + "_" + fingerprint
}

/*
loadRanges 依次从缓存、存储读取分布；都没有且build为true时计算并保存。
分布只在首次计算，之后追加的K线沿用，已写入的窗口不会被改写
*/
func (p *Pipeline) loadRanges(ctx context.Context, build bool) (*feats.RangeSet, bool, *errs.Error) {
	key := p.rangeCacheKey(p.Set.Fingerprint())
	if res := core.GetCacheVal[*feats.RangeSet](key, nil); res != nil && res.Clamp == p.Clamp {
		return res, false, nil
	}
	stats, err := p.Store.GetRanges(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(stats) == 0 {
		if !build {
			return nil, false, errs.NewMsg(core.ErrInvalidBars, "no range stats found, run stage %s first", core.StageRanges)
		}
		stats, err = feats.CalcBarStats(p.Arr, p.Set)
		if err != nil {
			return nil, false, err
		}
		var cache *feats.WindowCache
		cache, err = p.windowCache()
		if err != nil {
			return nil, false, err
		}
		cdStats, cancelled := cache.CandleStats(ctx, p.Set)
		if cancelled {
			return nil, true, nil
		}
		stats = append(stats, cdStats...)
		if err = p.Store.PutRanges(ctx, stats); err != nil {
			return nil, false, err
		}
		log.Info("range stats saved", zap.String("run_id", p.RunID), zap.Int("num", len(stats)))
	}
	res := feats.NewRangeSet(stats, p.Clamp)
	core.SetCacheVal(key, res, int64(res.Len()))
	return res, false, nil
}

type stagePrg struct {
	bar  *utils.PrgBar
	done int
}

func (p *Pipeline) newPrg(stage string, total int) *stagePrg {
	bar := utils.NewPrgBar(total, stage, p.ShowPrg)
	if p.prg != nil {
		bar.PrgCbs = append(bar.PrgCbs, p.prg.StageCB(stage))
	}
	if cb := p.OnProgress; cb != nil {
		bar.PrgCbs = append(bar.PrgCbs, func(done int, total int) {
			cb(stage, done, total)
		})
	}
	return &stagePrg{bar: bar}
}

// Set reports the number of finished items, ignores values not larger than the last one
func (s *stagePrg) Set(done int) {
	if done > s.done {
		s.bar.Add(done - s.done)
		s.done = done
	}
}

func (s *stagePrg) Close() {
	s.bar.Close()
}

func (r *StageResult) String() string {
	return fmt.Sprintf("%s %d/%d written=%d wm=%d cancelled=%v", r.Stage, r.Done, r.Total, r.Written, r.Watermark, r.Cancelled)
}
