package orm

import (
	"context"
	"sort"

	"github.com/banbox/banexg/errs"
	"github.com/sasha-s/go-deadlock"

	"github.com/banbox/banlabel/core"
)

/*
MemStore 内存存储，用于 -nodb 试运行和测试；所有读写都复制行，调用方修改不会影响存储
*/
type MemStore struct {
	lock     deadlock.RWMutex
	bars     []*Bar
	barIdx   map[int64]int
	candles  map[candleKey]*Candle
	patterns map[int64]*Pattern
	ranges   map[string]*RangeStat
	meta     map[string]string
}

type candleKey struct {
	time  int64
	size  int
	order int
}

func NewMemStore() *MemStore {
	return &MemStore{
		barIdx:   make(map[int64]int),
		candles:  make(map[candleKey]*Candle),
		patterns: make(map[int64]*Pattern),
		ranges:   make(map[string]*RangeStat),
		meta:     make(map[string]string),
	}
}

func (s *MemStore) Size(ctx context.Context) (int, *errs.Error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.bars), nil
}

func (s *MemStore) Get(ctx context.Context, index int) (*Bar, *errs.Error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if index < 0 || index >= len(s.bars) {
		return nil, errs.NewMsg(core.ErrMissingBar, "bar index %v out of range [0, %v)", index, len(s.bars))
	}
	return s.bars[index].Clone(), nil
}

func (s *MemStore) ListBars(ctx context.Context, startMS, stopMS int64) ([]*Bar, *errs.Error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	start := sort.Search(len(s.bars), func(i int) bool {
		return s.bars[i].Time >= startMS
	})
	res := make([]*Bar, 0, len(s.bars)-start)
	for _, b := range s.bars[start:] {
		if !inRange(b.Time, startMS, stopMS) {
			break
		}
		res = append(res, b.Clone())
	}
	return res, nil
}

func (s *MemStore) FindBarIndex(ctx context.Context, timeMS int64) (int, *errs.Error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if idx, ok := s.barIdx[timeMS]; ok {
		return idx, nil
	}
	return -1, nil
}

/*
InsertBars 插入或覆盖K线，保持按时间升序
*/
func (s *MemStore) InsertBars(ctx context.Context, rows []*Bar) *errs.Error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, b := range rows {
		if idx, ok := s.barIdx[b.Time]; ok {
			s.bars[idx] = b.Clone()
		} else {
			s.bars = append(s.bars, b.Clone())
		}
	}
	sort.Slice(s.bars, func(i, j int) bool {
		return s.bars[i].Time < s.bars[j].Time
	})
	for i, b := range s.bars {
		s.barIdx[b.Time] = i
	}
	return nil
}

func (s *MemStore) UpdateBars(ctx context.Context, rows []*Bar, cols BarCol) *errs.Error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, b := range rows {
		idx, ok := s.barIdx[b.Time]
		if !ok {
			return errs.NewMsg(core.ErrMissingBar, "update bar fail, %v not found", b.Time)
		}
		CopyCols(s.bars[idx], b, cols)
	}
	return nil
}

func (s *MemStore) ResetBars(ctx context.Context, cols BarCol, fromMS int64) *errs.Error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, b := range s.bars {
		if b.Time >= fromMS {
			ResetBar(b, cols)
		}
	}
	return nil
}

func (s *MemStore) InsertCandles(ctx context.Context, rows []*Candle) *errs.Error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, c := range rows {
		key := candleKey{c.Time, c.Size, c.Order}
		if _, ok := s.candles[key]; ok {
			return errs.NewMsg(core.ErrDbUniqueViolation, "candle %v/%v/%v exists", c.Time, c.Size, c.Order)
		}
		item := *c
		s.candles[key] = &item
	}
	return nil
}

func (s *MemStore) ListCandles(ctx context.Context, startMS, stopMS int64) ([]*Candle, *errs.Error) {
	s.lock.RLock()
	res := make([]*Candle, 0)
	for _, c := range s.candles {
		if inRange(c.Time, startMS, stopMS) {
			item := *c
			res = append(res, &item)
		}
	}
	s.lock.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if a.Size != b.Size {
			return a.Size < b.Size
		}
		return a.Order < b.Order
	})
	return res, nil
}

func (s *MemStore) MaxCandleTime(ctx context.Context) (int64, *errs.Error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	res := int64(-1)
	for k := range s.candles {
		res = max(res, k.time)
	}
	return res, nil
}

func (s *MemStore) InsertPatterns(ctx context.Context, rows []*Pattern) *errs.Error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, p := range rows {
		if _, ok := s.patterns[p.Time]; ok {
			return errs.NewMsg(core.ErrDbUniqueViolation, "pattern %v exists", p.Time)
		}
		s.patterns[p.Time] = p.Clone()
	}
	return nil
}

func (s *MemStore) ListPatterns(ctx context.Context, startMS, stopMS int64) ([]*Pattern, *errs.Error) {
	s.lock.RLock()
	res := make([]*Pattern, 0)
	for _, p := range s.patterns {
		if inRange(p.Time, startMS, stopMS) {
			res = append(res, p.Clone())
		}
	}
	s.lock.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		return res[i].Time < res[j].Time
	})
	return res, nil
}

func (s *MemStore) MaxPatternTime(ctx context.Context) (int64, *errs.Error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	res := int64(-1)
	for t := range s.patterns {
		res = max(res, t)
	}
	return res, nil
}

func (s *MemStore) GetRanges(ctx context.Context) ([]*RangeStat, *errs.Error) {
	s.lock.RLock()
	res := make([]*RangeStat, 0, len(s.ranges))
	for _, r := range s.ranges {
		item := *r
		res = append(res, &item)
	}
	s.lock.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})
	return res, nil
}

func (s *MemStore) PutRanges(ctx context.Context, rows []*RangeStat) *errs.Error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, r := range rows {
		item := *r
		s.ranges[r.Name] = &item
	}
	return nil
}

func (s *MemStore) PurgeDerived(ctx context.Context) *errs.Error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.ranges = make(map[string]*RangeStat)
	s.candles = make(map[candleKey]*Candle)
	s.patterns = make(map[int64]*Pattern)
	return nil
}

func (s *MemStore) GetMeta(ctx context.Context, key string) (string, *errs.Error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.meta[key], nil
}

func (s *MemStore) SetMeta(ctx context.Context, key, val string) *errs.Error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.meta[key] = val
	return nil
}

func (s *MemStore) Close() {}
