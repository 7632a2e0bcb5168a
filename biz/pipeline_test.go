package biz

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banexg/log"

	"github.com/banbox/banlabel/config"
	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/feats"
	"github.com/banbox/banlabel/orm"
)

const baseMS = int64(1700000000000)

func init() {
	log.Setup("error", "")
}

func waveBars(start, n int) []*orm.Bar {
	price := func(i int) float64 {
		return 100 + 10*math.Sin(float64(i)/3) + float64(i)*0.1
	}
	res := make([]*orm.Bar, 0, n)
	for i := start; i < start+n; i++ {
		o, c := price(i-1), price(i)
		b := &orm.Bar{RefValue: c}
		b.Time = baseMS + int64(i)*60000
		b.Open, b.Close = o, c
		b.High = math.Max(o, c) + 0.5
		b.Low = math.Min(o, c) - 0.5
		b.Volume = 10 + float64(i%7)
		res = append(res, b)
	}
	return res
}

func testSet(t *testing.T, periods ...int) *feats.AverageSet {
	defs := make([]*feats.AvgDef, 0, len(periods))
	for _, p := range periods {
		defs = append(defs, &feats.AvgDef{Type: feats.AvgSMA, Period: p, Smooths: []int{1}})
	}
	set, err := feats.NewAverageSet(defs)
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func newTestPipeline(t *testing.T, store orm.Store, periods ...int) *Pipeline {
	if len(periods) == 0 {
		periods = []int{2, 4}
	}
	return &Pipeline{
		Store:     store,
		Set:       testSet(t, periods...),
		BarsAhead: 2,
		PctCalc:   10,
		PctEdit:   5,
		Prepare:   true,
		BatchSize: 7,
		ChunkSize: 3,
		Workers:   2,
		RunID:     "test",
	}
}

func seedStore(t *testing.T, n int) orm.Store {
	store := orm.NewMemStore()
	if err := store.InsertBars(context.Background(), waveBars(0, n)); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestPipelineRunAll(t *testing.T) {
	ctx := context.Background()
	n := 40
	store := seedStore(t, n)
	p := newTestPipeline(t, store)
	results, err := p.Run(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Stage)
		if r.Cancelled {
			t.Errorf("stage %s cancelled", r.Stage)
		}
	}
	if !slices.Equal(names, core.StageNames) {
		t.Fatalf("stages run: %v", names)
	}
	nw := p.Set.NumWindows()
	anchors := n - (p.Set.MaxLookback() - 1)
	if results[4].Written != anchors*nw || results[4].Done != anchors {
		t.Errorf("candles: %v", results[4])
	}
	if results[5].Written != anchors || results[5].Watermark != baseMS+int64(n-1)*60000 {
		t.Errorf("patterns: %v", results[5])
	}
	cds, _ := store.ListCandles(ctx, 0, 0)
	if len(cds) != anchors*nw {
		t.Errorf("candle rows %v, expect %v", len(cds), anchors*nw)
	}
	pats, _ := store.ListPatterns(ctx, 0, 0)
	if len(pats) != anchors {
		t.Fatalf("pattern rows %v, expect %v", len(pats), anchors)
	}
	for _, pat := range pats {
		if len(pat.Feats) != p.Set.PatternWidth() {
			t.Errorf("pattern %v width %v", pat.Time, len(pat.Feats))
			break
		}
	}
	bars, _ := store.ListBars(ctx, 0, 0)
	pivots := 0
	for i, b := range bars {
		if b.Pivot != p.Arr.Pivot[i] || b.Label != p.Arr.Label[i] || b.LabelSet != p.Arr.LabelSet[i] {
			t.Errorf("bar %v differs from memory: %v/%v %v/%v", i, b.Pivot, p.Arr.Pivot[i], b.Label, p.Arr.Label[i])
		}
		if len(b.SlopesN) != 2 || len(b.SpreadsN) != 1 || len(b.Avgs) != 2 {
			t.Errorf("bar %v not normalized", i)
		}
		if b.Pivot != 0 {
			pivots += 1
		}
	}
	if pivots < 2 || results[1].Written != pivots {
		t.Errorf("pivots %v, written %v", pivots, results[1].Written)
	}
	if fp, _ := store.GetMeta(ctx, core.MetaAvgSet); fp != p.Set.Fingerprint() {
		t.Errorf("meta avg set %q", fp)
	}
}

func TestPipelineResume(t *testing.T) {
	ctx := context.Background()
	n := 30
	store := seedStore(t, n)
	if _, err := newTestPipeline(t, store).Run(ctx, nil); err != nil {
		t.Fatal(err)
	}
	cw, _ := store.MaxCandleTime(ctx)
	pw, _ := store.MaxPatternTime(ctx)

	// 没有新K线时不产生新行
	p := newTestPipeline(t, store)
	results, err := p.Run(ctx, []string{core.StagePatterns, core.StageCandles})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Stage != core.StageCandles {
		t.Fatalf("results %v", results)
	}
	for _, r := range results {
		if r.Written != 0 || r.Done != 0 {
			t.Errorf("rerun should write nothing: %v", r)
		}
	}
	if mt, _ := store.MaxCandleTime(ctx); mt != cw {
		t.Errorf("candle watermark moved %v -> %v", cw, mt)
	}
	if mt, _ := store.MaxPatternTime(ctx); mt != pw {
		t.Errorf("pattern watermark moved %v -> %v", pw, mt)
	}

	// 追加K线后只生成新的部分
	if err = store.InsertBars(ctx, waveBars(n, 5)); err != nil {
		t.Fatal(err)
	}
	p = newTestPipeline(t, store)
	results, err = p.Run(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	nw := p.Set.NumWindows()
	if results[4].Written != 5*nw || results[5].Written != 5 {
		t.Errorf("append: candles %v, patterns %v", results[4], results[5])
	}
	pats, _ := store.ListPatterns(ctx, 0, 0)
	if len(pats) != n+5-(p.Set.MaxLookback()-1) {
		t.Errorf("total patterns %v", len(pats))
	}
}

func TestPipelineCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := seedStore(t, 40)
	p := newTestPipeline(t, store)
	p.OnProgress = func(stage string, done, total int) {
		if stage == core.StageZigZag && done == 10 {
			cancel()
		}
	}
	results, err := p.Run(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expect prepare and zigzag, got %v", results)
	}
	zz := results[1]
	if !zz.Cancelled || zz.Done != 10 || zz.Total != 40 {
		t.Errorf("zigzag result %v", zz)
	}
	bars, _ := store.ListBars(context.Background(), 0, 0)
	pivots := 0
	for i, b := range bars {
		if b.Pivot != 0 {
			pivots += 1
			if i >= 10 {
				t.Errorf("bar %v should not be processed", i)
			}
		}
	}
	// 取消前缓存的行已写入
	if pivots != zz.Written {
		t.Errorf("pivots %v, written %v", pivots, zz.Written)
	}
	if mt, _ := store.MaxCandleTime(context.Background()); mt != -1 {
		t.Errorf("candles should not run")
	}
}

func TestPatternsTrailCandles(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 30)
	p := newTestPipeline(t, store)
	if _, err := p.Run(ctx, []string{core.StagePrepare, core.StageZigZag, core.StageLabel, core.StageRanges}); err != nil {
		t.Fatal(err)
	}
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.OnProgress = func(stage string, done, total int) {
		if stage == core.StageCandles && done == 5 {
			cancel()
		}
	}
	res, err := p.RunCandles(cctx, -1)
	if err != nil {
		t.Fatal(err)
	}
	first := p.Set.MaxLookback() - 1
	if !res.Cancelled || res.Done != 5 || res.Written != 5*p.Set.NumWindows() || res.Watermark != p.Arr.Times[first+4] {
		t.Fatalf("candles %v", res)
	}
	p.OnProgress = nil
	cw, _ := store.MaxCandleTime(ctx)
	if cw != res.Watermark {
		t.Errorf("stored watermark %v, result %v", cw, res.Watermark)
	}
	pres, err := p.RunPatterns(ctx, -1, cw)
	if err != nil {
		t.Fatal(err)
	}
	if pres.Done != 5 || pres.Watermark != cw {
		t.Errorf("patterns %v", pres)
	}
	// 继续生成剩余部分
	res, err = p.RunCandles(ctx, cw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Done != 30-first-5 {
		t.Errorf("resume candles %v", res)
	}
	pres, err = p.RunPatterns(ctx, pres.Watermark, res.Watermark)
	if err != nil {
		t.Fatal(err)
	}
	if pres.Done != 30-first-5 {
		t.Errorf("resume patterns %v", pres)
	}
}

func TestPatternMissingBar(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 20)
	p := newTestPipeline(t, store)
	_, err := p.Run(ctx, []string{core.StagePrepare, core.StageZigZag, core.StageLabel, core.StageRanges, core.StageCandles})
	if err != nil {
		t.Fatal(err)
	}
	stray := &orm.Candle{Size: 1}
	stray.Time = p.Arr.Times[5] + 1
	if err = store.InsertCandles(ctx, []*orm.Candle{stray}); err != nil {
		t.Fatal(err)
	}
	_, err = p.RunStage(ctx, core.StagePatterns)
	if err == nil || err.Code != core.ErrMissingBar {
		t.Errorf("expect ErrMissingBar, got %v", err)
	}
}

func TestAvgSetChangePurges(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 30)
	if _, err := newTestPipeline(t, store).Run(ctx, nil); err != nil {
		t.Fatal(err)
	}
	same := newTestPipeline(t, store)
	if err := same.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if mt, _ := store.MaxCandleTime(ctx); mt < 0 {
		t.Errorf("unchanged set should keep candles")
	}
	p := newTestPipeline(t, store, 2, 6)
	if err := p.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if mt, _ := store.MaxCandleTime(ctx); mt != -1 {
		t.Errorf("candles not purged")
	}
	if mt, _ := store.MaxPatternTime(ctx); mt != -1 {
		t.Errorf("patterns not purged")
	}
	if rs, _ := store.GetRanges(ctx); len(rs) != 0 {
		t.Errorf("ranges not purged")
	}
	if fp, _ := store.GetMeta(ctx, core.MetaAvgSet); fp != "sma:2:1|sma:6:1" {
		t.Errorf("meta %q", fp)
	}
	results, err := p.Run(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if results[5].Written != 30-(p.Set.MaxLookback()-1) {
		t.Errorf("rebuild patterns %v", results[5])
	}
}

func TestResolveStages(t *testing.T) {
	p := newTestPipeline(t, orm.NewMemStore())
	p.Prepare = false
	cases := []struct {
		in   []string
		want []string
		ok   bool
	}{
		{nil, core.StageNames[1:], true},
		{[]string{core.StagePatterns, core.StageZigZag}, []string{core.StageZigZag, core.StagePatterns}, true},
		{[]string{core.StageLabel, core.StageLabel}, []string{core.StageLabel}, true},
		{[]string{"train"}, nil, false},
	}
	for _, c := range cases {
		got, err := p.ResolveStages(c.in)
		if (err == nil) != c.ok {
			t.Errorf("%v: err %v", c.in, err)
			continue
		}
		if c.ok && !slices.Equal(got, c.want) {
			t.Errorf("%v: got %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewPipelineCheck(t *testing.T) {
	old := config.Data
	defer func() {
		_ = config.ApplyConfig(config.Args, &old)
	}()
	cfg := config.Config{
		Averages:    []*config.AvgConfig{{Type: "sma", Period: 5, Smooths: []int{1}}, {Type: "ema", Period: 20, Smooths: []int{1, 3}}},
		BarsAhead:   3,
		PercentCalc: 10,
		PercentEdit: 5,
	}
	cases := []struct {
		name string
		edit func(c *config.Config)
		code int
	}{
		{"ok", func(c *config.Config) {}, 0},
		{"bars_ahead", func(c *config.Config) { c.BarsAhead = 0 }, core.ErrBadConfig},
		{"percent_calc", func(c *config.Config) { c.PercentCalc = 50 }, core.ErrBadConfig},
		{"percent_edit", func(c *config.Config) { c.PercentEdit = 0 }, core.ErrBadConfig},
		{"multiple", func(c *config.Config) {
			c.Averages = []*config.AvgConfig{{Type: "sma", Period: 5, Smooths: []int{1}}, {Type: "sma", Period: 12, Smooths: []int{1}}}
		}, core.ErrBadConfig},
	}
	for _, c := range cases {
		item := cfg
		c.edit(&item)
		_ = config.ApplyConfig(nil, &item)
		p, err := NewPipeline(orm.NewMemStore())
		if c.code == 0 {
			if err != nil || p.Set.Fingerprint() != "sma:5:1|ema:20:1,3" {
				t.Errorf("%s: %v", c.name, err)
			}
			continue
		}
		if err == nil || err.Code != c.code {
			t.Errorf("%s: expect code %v, got %v", c.name, c.code, err)
		}
	}
}

type countStore struct {
	*orm.MemStore
	candleTimeCalls int
}

func (s *countStore) MaxCandleTime(ctx context.Context) (int64, *errs.Error) {
	s.candleTimeCalls += 1
	return s.MemStore.MaxCandleTime(ctx)
}

func TestPatternsUseCandleWatermark(t *testing.T) {
	ctx := context.Background()
	store := &countStore{MemStore: orm.NewMemStore()}
	if err := store.InsertBars(ctx, waveBars(0, 30)); err != nil {
		t.Fatal(err)
	}
	p := newTestPipeline(t, store)
	results, err := p.Run(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if store.candleTimeCalls != 1 {
		t.Errorf("max candle time queried %v times in one run, expect 1", store.candleTimeCalls)
	}
	cdRes, patRes := results[4], results[5]
	if patRes.Watermark != cdRes.Watermark {
		t.Errorf("patterns watermark %v, candles %v", patRes.Watermark, cdRes.Watermark)
	}
	// 单独执行模式阶段时从存储读取窗口水位
	if _, err = p.RunStage(ctx, core.StagePatterns); err != nil {
		t.Fatal(err)
	}
	if store.candleTimeCalls != 2 {
		t.Errorf("standalone patterns should query store, calls %v", store.candleTimeCalls)
	}
}
