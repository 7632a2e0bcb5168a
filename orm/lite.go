package orm

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banexg/log"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/utils"
)

//go:embed sql/lite_schema.sql
var ddlLite string

/*
LiteStore 基于sqlite文件的存储；sqlite只允许单个写入者，所以连接池限制为1
*/
type LiteStore struct {
	db   *sql.DB
	Path string
}

func NewLiteStore(path string, busyMs int64) (*LiteStore, *errs.Error) {
	if err_ := utils.EnsureDir(filepath.Dir(path), 0755); err_ != nil {
		return nil, errs.New(core.ErrIOWriteFail, err_)
	}
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	if busyMs > 0 {
		connStr += fmt.Sprintf("&_pragma=busy_timeout(%d)", busyMs)
	}
	db, err_ := sql.Open("sqlite", connStr)
	if err_ != nil {
		return nil, errs.New(core.ErrDbConnFail, err_)
	}
	db.SetMaxOpenConns(1)
	checkSql := "SELECT COUNT(*) FROM sqlite_schema WHERE type='table' AND name=?;"
	var count int
	if err_ = db.QueryRow(checkSql, "bar").Scan(&count); err_ != nil {
		_ = db.Close()
		return nil, errs.New(core.ErrDbConnFail, err_)
	}
	if count == 0 {
		log.Info("init sqlite structure", zap.String("path", path))
	}
	if _, err_ = db.Exec(ddlLite); err_ != nil {
		_ = db.Close()
		return nil, errs.New(core.ErrDbExecFail, err_)
	}
	return &LiteStore{db: db, Path: path}, nil
}

func liteArr(arr []float64) (any, *errs.Error) {
	return encodeFloats(arr)
}

func (s *LiteStore) Size(ctx context.Context) (int, *errs.Error) {
	var num int
	err_ := s.db.QueryRowContext(ctx, "select count(*) from bar").Scan(&num)
	if err_ != nil {
		return 0, errs.New(core.ErrDbReadFail, err_)
	}
	return num, nil
}

func scanLiteBar(rows *sql.Rows) (*Bar, *errs.Error) {
	b := &Bar{}
	var avgs, slopes, slopesN, spreads, spreadsN string
	err_ := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &avgs, &slopes, &slopesN,
		&spreads, &spreadsN, &b.Pivot, &b.RefValue, &b.Label, &b.LabelSet, &b.LabelEdit)
	if err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	var err *errs.Error
	for _, it := range []struct {
		text string
		out  *[]float64
	}{{avgs, &b.Avgs}, {slopes, &b.Slopes}, {slopesN, &b.SlopesN}, {spreads, &b.Spreads}, {spreadsN, &b.SpreadsN}} {
		*it.out, err = decodeFloats(it.text)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *LiteStore) Get(ctx context.Context, index int) (*Bar, *errs.Error) {
	rows, err_ := s.db.QueryContext(ctx, "select "+barFields+" from bar order by time limit 1 offset ?", index)
	if err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	defer rows.Close()
	if !rows.Next() {
		if err_ = rows.Err(); err_ != nil {
			return nil, errs.New(core.ErrDbReadFail, err_)
		}
		return nil, errs.NewMsg(core.ErrMissingBar, "bar index %v out of range", index)
	}
	return scanLiteBar(rows)
}

func (s *LiteStore) ListBars(ctx context.Context, startMS, stopMS int64) ([]*Bar, *errs.Error) {
	rows, err_ := s.db.QueryContext(ctx, "select "+barFields+" from bar where time >= ? and time < ? order by time",
		startMS, stopOrMax(stopMS))
	if err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	defer rows.Close()
	res := make([]*Bar, 0)
	for rows.Next() {
		b, err := scanLiteBar(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	if err_ = rows.Err(); err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	return res, nil
}

func (s *LiteStore) FindBarIndex(ctx context.Context, timeMS int64) (int, *errs.Error) {
	var exist, idx int
	err_ := s.db.QueryRowContext(ctx, "select count(*) from bar where time = ?", timeMS).Scan(&exist)
	if err_ != nil {
		return -1, errs.New(core.ErrDbReadFail, err_)
	}
	if exist == 0 {
		return -1, nil
	}
	err_ = s.db.QueryRowContext(ctx, "select count(*) from bar where time < ?", timeMS).Scan(&idx)
	if err_ != nil {
		return -1, errs.New(core.ErrDbReadFail, err_)
	}
	return idx, nil
}

/*
execTx 在一个事务中对每行执行一次语句
*/
func (s *LiteStore) execTx(ctx context.Context, num int, gen func(i int) (string, []any, *errs.Error)) *errs.Error {
	if num == 0 {
		return nil
	}
	tx, err_ := s.db.BeginTx(ctx, nil)
	if err_ != nil {
		return errs.New(core.ErrDbConnFail, err_)
	}
	for i := 0; i < num; i++ {
		sqlText, args, err := gen(i)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err_ = tx.ExecContext(ctx, sqlText, args...); err_ != nil {
			_ = tx.Rollback()
			return errs.New(core.ErrDbExecFail, err_)
		}
	}
	if err_ = tx.Commit(); err_ != nil {
		return errs.New(core.ErrDbExecFail, err_)
	}
	return nil
}

func (s *LiteStore) InsertBars(ctx context.Context, rows []*Bar) *errs.Error {
	sqlText := fmt.Sprintf(`insert into bar (%s) values (%s) on conflict(time) do update set
open=excluded.open,high=excluded.high,low=excluded.low,close=excluded.close,volume=excluded.volume,
avgs=excluded.avgs,slopes=excluded.slopes,spreads=excluded.spreads,label_edit=excluded.label_edit`,
		barFields, placeholders(16, litePh))
	return s.execTx(ctx, len(rows), func(i int) (string, []any, *errs.Error) {
		b := rows[i]
		arrs := make([]any, 0, 5)
		for _, arr := range [][]float64{b.Avgs, b.Slopes, b.SlopesN, b.Spreads, b.SpreadsN} {
			text, err := encodeFloats(arr)
			if err != nil {
				return "", nil, err
			}
			arrs = append(arrs, text)
		}
		args := []any{b.Time, b.Open, b.High, b.Low, b.Close, b.Volume}
		args = append(args, arrs...)
		args = append(args, b.Pivot, b.RefValue, b.Label, b.LabelSet, b.LabelEdit)
		return sqlText, args, nil
	})
}

func (s *LiteStore) UpdateBars(ctx context.Context, rows []*Bar, cols BarCol) *errs.Error {
	return s.execTx(ctx, len(rows), func(i int) (string, []any, *errs.Error) {
		sets, args, err := barSets(rows[i], cols, liteArr, litePh)
		if err != nil {
			return "", nil, err
		}
		return "update bar set " + sets + " where time = ?", append(args, rows[i].Time), nil
	})
}

func (s *LiteStore) ResetBars(ctx context.Context, cols BarCol, fromMS int64) *errs.Error {
	_, err_ := s.db.ExecContext(ctx, "update bar set "+resetSets(cols, "''")+" where time >= ?", fromMS)
	if err_ != nil {
		return errs.New(core.ErrDbExecFail, err_)
	}
	return nil
}

func (s *LiteStore) InsertCandles(ctx context.Context, rows []*Candle) *errs.Error {
	sqlText := fmt.Sprintf("insert into candle (%s) values (%s)", candleFields, placeholders(10, litePh))
	return s.execTx(ctx, len(rows), func(i int) (string, []any, *errs.Error) {
		c := rows[i]
		feats, err := encodeFloats(c.Feats[:])
		if err != nil {
			return "", nil, err
		}
		featsN, err := encodeFloats(c.FeatsN[:])
		if err != nil {
			return "", nil, err
		}
		return sqlText, []any{c.Time, c.Size, c.Order, c.Open, c.High, c.Low, c.Close, c.Volume, feats, featsN}, nil
	})
}

func (s *LiteStore) ListCandles(ctx context.Context, startMS, stopMS int64) ([]*Candle, *errs.Error) {
	rows, err_ := s.db.QueryContext(ctx, "select "+candleFields+" from candle where time >= ? and time < ? order by time,size,ord",
		startMS, stopOrMax(stopMS))
	if err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	defer rows.Close()
	res := make([]*Candle, 0)
	for rows.Next() {
		c := &Candle{}
		var feats, featsN string
		err_ = rows.Scan(&c.Time, &c.Size, &c.Order, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &feats, &featsN)
		if err_ != nil {
			return nil, errs.New(core.ErrDbReadFail, err_)
		}
		if err := decodeShape(feats, &c.Feats); err != nil {
			return nil, err
		}
		if err := decodeShape(featsN, &c.FeatsN); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err_ = rows.Err(); err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	return res, nil
}

func decodeShape(text string, out *[NumShape]float64) *errs.Error {
	arr, err := decodeFloats(text)
	if err != nil {
		return err
	}
	if len(arr) != NumShape {
		return errs.NewMsg(core.ErrInvalidBars, "candle feats need %v values, got %v", NumShape, len(arr))
	}
	copy(out[:], arr)
	return nil
}

func (s *LiteStore) maxTime(ctx context.Context, table string) (int64, *errs.Error) {
	var res int64
	err_ := s.db.QueryRowContext(ctx, fmt.Sprintf("select coalesce(max(time), -1) from %s", table)).Scan(&res)
	if err_ != nil {
		return -1, errs.New(core.ErrDbReadFail, err_)
	}
	return res, nil
}

func (s *LiteStore) MaxCandleTime(ctx context.Context) (int64, *errs.Error) {
	return s.maxTime(ctx, "candle")
}

func (s *LiteStore) InsertPatterns(ctx context.Context, rows []*Pattern) *errs.Error {
	sqlText := fmt.Sprintf("insert into pattern (%s) values (%s)", patternFields, placeholders(4, litePh))
	return s.execTx(ctx, len(rows), func(i int) (string, []any, *errs.Error) {
		p := rows[i]
		feats, err := encodeFloats(p.Feats)
		if err != nil {
			return "", nil, err
		}
		return sqlText, []any{p.Time, p.Label, p.LabelEdit, feats}, nil
	})
}

func (s *LiteStore) ListPatterns(ctx context.Context, startMS, stopMS int64) ([]*Pattern, *errs.Error) {
	rows, err_ := s.db.QueryContext(ctx, "select "+patternFields+" from pattern where time >= ? and time < ? order by time",
		startMS, stopOrMax(stopMS))
	if err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	defer rows.Close()
	res := make([]*Pattern, 0)
	for rows.Next() {
		p := &Pattern{}
		var feats string
		if err_ = rows.Scan(&p.Time, &p.Label, &p.LabelEdit, &feats); err_ != nil {
			return nil, errs.New(core.ErrDbReadFail, err_)
		}
		var err *errs.Error
		if p.Feats, err = decodeFloats(feats); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err_ = rows.Err(); err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	return res, nil
}

func (s *LiteStore) MaxPatternTime(ctx context.Context) (int64, *errs.Error) {
	return s.maxTime(ctx, "pattern")
}

func (s *LiteStore) GetRanges(ctx context.Context) ([]*RangeStat, *errs.Error) {
	rows, err_ := s.db.QueryContext(ctx, "select "+rangeFields+" from range_stat order by name")
	if err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	defer rows.Close()
	res := make([]*RangeStat, 0)
	for rows.Next() {
		r := &RangeStat{}
		if err_ = rows.Scan(&r.Name, &r.Mean, &r.Std, &r.Min, &r.Max, &r.Num); err_ != nil {
			return nil, errs.New(core.ErrDbReadFail, err_)
		}
		res = append(res, r)
	}
	if err_ = rows.Err(); err_ != nil {
		return nil, errs.New(core.ErrDbReadFail, err_)
	}
	return res, nil
}

func (s *LiteStore) PutRanges(ctx context.Context, rows []*RangeStat) *errs.Error {
	sqlText := fmt.Sprintf(`insert into range_stat (%s) values (%s) on conflict(name) do update set
mean=excluded.mean,std=excluded.std,min=excluded.min,max=excluded.max,num=excluded.num`, rangeFields, placeholders(6, litePh))
	return s.execTx(ctx, len(rows), func(i int) (string, []any, *errs.Error) {
		r := rows[i]
		return sqlText, []any{r.Name, r.Mean, r.Std, r.Min, r.Max, r.Num}, nil
	})
}

func (s *LiteStore) PurgeDerived(ctx context.Context) *errs.Error {
	tables := []string{"range_stat", "candle", "pattern"}
	return s.execTx(ctx, len(tables), func(i int) (string, []any, *errs.Error) {
		return "delete from " + tables[i], nil, nil
	})
}

func (s *LiteStore) GetMeta(ctx context.Context, key string) (string, *errs.Error) {
	var val string
	err_ := s.db.QueryRowContext(ctx, "select value from meta where key = ?", key).Scan(&val)
	if errors.Is(err_, sql.ErrNoRows) {
		return "", nil
	} else if err_ != nil {
		return "", errs.New(core.ErrDbReadFail, err_)
	}
	return val, nil
}

func (s *LiteStore) SetMeta(ctx context.Context, key, val string) *errs.Error {
	_, err_ := s.db.ExecContext(ctx, "insert into meta (key, value) values (?, ?) on conflict(key) do update set value=excluded.value",
		key, val)
	if err_ != nil {
		return errs.New(core.ErrDbExecFail, err_)
	}
	return nil
}

func (s *LiteStore) Close() {
	if s.db != nil {
		if err_ := s.db.Close(); err_ != nil {
			log.Warn("close sqlite fail", zap.String("path", s.Path), zap.Error(err_))
		}
		s.db = nil
	}
}
