package orm

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"runtime"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banexg/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/banbox/banlabel/core"
)

//go:embed sql/pg_schema.sql
var ddlPg string

/*
PgStore 基于postgres的存储，窗口和Pattern使用CopyFrom批量写入，数组列使用原生 double precision[]
*/
type PgStore struct {
	pool *pgxpool.Pool
}

/*
pgPoolSize 未配置连接池大小时按写入并发数推算；配置值小于workers时返回false
*/
func pgPoolSize(maxPoolSize, workers int) (int, bool) {
	if workers <= 0 {
		workers = core.DefaultWorkers
	}
	if maxPoolSize <= 0 {
		return max(workers+4, runtime.NumCPU()*2), true
	}
	return maxPoolSize, maxPoolSize >= workers
}

func NewPgStore(ctx context.Context, dbUrl string, maxPoolSize, workers int) (*PgStore, *errs.Error) {
	poolCfg, err_ := pgxpool.ParseConfig(dbUrl)
	if err_ != nil {
		return nil, errs.New(core.ErrBadConfig, err_)
	}
	poolSize, enough := pgPoolSize(maxPoolSize, workers)
	if !enough {
		log.Warn("max_pool_size < workers may make batch writers wait for connections",
			zap.Int("cur", poolSize), zap.Int("workers", workers))
	}
	poolCfg.MaxConns = int32(poolSize)
	pool, err_ := pgxpool.NewWithConfig(ctx, poolCfg)
	if err_ != nil {
		return nil, errs.New(core.ErrDbConnFail, err_)
	}
	if _, err_ = pool.Exec(ctx, ddlPg); err_ != nil {
		dbErr := NewDbErr(core.ErrDbExecFail, err_)
		if dbErr.Code == core.ErrDbConnFail && dbErr.Message() == "db not exist" {
			// 数据库不存在，创建后重试
			log.Warn("database not exist, creating...")
			if err := createPgDb(ctx, dbUrl); err != nil {
				pool.Close()
				return nil, err
			}
			_, err_ = pool.Exec(ctx, ddlPg)
		}
		if err_ != nil {
			pool.Close()
			return nil, NewDbErr(core.ErrDbExecFail, err_)
		}
	}
	return &PgStore{pool: pool}, nil
}

func createPgDb(ctx context.Context, dbUrl string) *errs.Error {
	tmpConfig, err_ := pgx.ParseConfig(dbUrl)
	if err_ != nil {
		return errs.New(core.ErrBadConfig, err_)
	}
	dbName := tmpConfig.Database
	tmpConfig.Database = "postgres"
	conn, err_ := pgx.ConnectConfig(ctx, tmpConfig)
	if err_ != nil {
		return errs.New(core.ErrDbConnFail, err_)
	}
	defer conn.Close(ctx)
	_, err_ = conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{dbName}.Sanitize()))
	if err_ != nil {
		return errs.New(core.ErrDbExecFail, err_)
	}
	return nil
}

func pgArr(arr []float64) (any, *errs.Error) {
	return arr, nil
}

func (s *PgStore) Size(ctx context.Context) (int, *errs.Error) {
	var num int
	if err_ := s.pool.QueryRow(ctx, "select count(*) from bar").Scan(&num); err_ != nil {
		return 0, NewDbErr(core.ErrDbReadFail, err_)
	}
	return num, nil
}

func scanPgBar(row pgx.Row) (*Bar, error) {
	b := &Bar{}
	err_ := row.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Avgs, &b.Slopes, &b.SlopesN,
		&b.Spreads, &b.SpreadsN, &b.Pivot, &b.RefValue, &b.Label, &b.LabelSet, &b.LabelEdit)
	return b, err_
}

func (s *PgStore) Get(ctx context.Context, index int) (*Bar, *errs.Error) {
	row := s.pool.QueryRow(ctx, "select "+barFields+" from bar order by time limit 1 offset $1", index)
	b, err_ := scanPgBar(row)
	if errors.Is(err_, pgx.ErrNoRows) {
		return nil, errs.NewMsg(core.ErrMissingBar, "bar index %v out of range", index)
	} else if err_ != nil {
		return nil, NewDbErr(core.ErrDbReadFail, err_)
	}
	return b, nil
}

func mapToItems[T any](rows pgx.Rows, err_ error, scan func(row pgx.Rows) (T, error)) ([]T, *errs.Error) {
	if err_ != nil {
		return nil, NewDbErr(core.ErrDbReadFail, err_)
	}
	defer rows.Close()
	items := make([]T, 0)
	for rows.Next() {
		it, err := scan(rows)
		if err != nil {
			return nil, NewDbErr(core.ErrDbReadFail, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDbErr(core.ErrDbReadFail, err)
	}
	return items, nil
}

func (s *PgStore) ListBars(ctx context.Context, startMS, stopMS int64) ([]*Bar, *errs.Error) {
	rows, err_ := s.pool.Query(ctx, "select "+barFields+" from bar where time >= $1 and time < $2 order by time",
		startMS, stopOrMax(stopMS))
	return mapToItems(rows, err_, func(row pgx.Rows) (*Bar, error) {
		return scanPgBar(row)
	})
}

func (s *PgStore) FindBarIndex(ctx context.Context, timeMS int64) (int, *errs.Error) {
	var exist bool
	var idx int
	sqlText := "select exists(select 1 from bar where time = $1), (select count(*) from bar where time < $1)"
	if err_ := s.pool.QueryRow(ctx, sqlText, timeMS).Scan(&exist, &idx); err_ != nil {
		return -1, NewDbErr(core.ErrDbReadFail, err_)
	}
	if !exist {
		return -1, nil
	}
	return idx, nil
}

/*
sendBatch 把每行的语句放入一个pgx.Batch，在事务中一次发送
*/
func (s *PgStore) sendBatch(ctx context.Context, num int, gen func(i int) (string, []any, *errs.Error)) *errs.Error {
	if num == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := 0; i < num; i++ {
		sqlText, args, err := gen(i)
		if err != nil {
			return err
		}
		batch.Queue(sqlText, args...)
	}
	tx, err_ := s.pool.Begin(ctx)
	if err_ != nil {
		return NewDbErr(core.ErrDbConnFail, err_)
	}
	if err_ = tx.SendBatch(ctx, batch).Close(); err_ != nil {
		_ = tx.Rollback(ctx)
		return NewDbErr(core.ErrDbExecFail, err_)
	}
	if err_ = tx.Commit(ctx); err_ != nil {
		return NewDbErr(core.ErrDbExecFail, err_)
	}
	return nil
}

func (s *PgStore) InsertBars(ctx context.Context, rows []*Bar) *errs.Error {
	sqlText := fmt.Sprintf(`insert into bar (%s) values (%s) on conflict(time) do update set
open=excluded.open,high=excluded.high,low=excluded.low,close=excluded.close,volume=excluded.volume,
avgs=excluded.avgs,slopes=excluded.slopes,spreads=excluded.spreads,label_edit=excluded.label_edit`,
		barFields, placeholders(16, pgPh))
	return s.sendBatch(ctx, len(rows), func(i int) (string, []any, *errs.Error) {
		b := rows[i]
		return sqlText, []any{b.Time, b.Open, b.High, b.Low, b.Close, b.Volume, b.Avgs, b.Slopes, b.SlopesN,
			b.Spreads, b.SpreadsN, b.Pivot, b.RefValue, b.Label, b.LabelSet, b.LabelEdit}, nil
	})
}

func (s *PgStore) UpdateBars(ctx context.Context, rows []*Bar, cols BarCol) *errs.Error {
	return s.sendBatch(ctx, len(rows), func(i int) (string, []any, *errs.Error) {
		sets, args, err := barSets(rows[i], cols, pgArr, pgPh)
		if err != nil {
			return "", nil, err
		}
		sqlText := fmt.Sprintf("update bar set %s where time = $%d", sets, len(args)+1)
		return sqlText, append(args, rows[i].Time), nil
	})
}

func (s *PgStore) ResetBars(ctx context.Context, cols BarCol, fromMS int64) *errs.Error {
	_, err_ := s.pool.Exec(ctx, "update bar set "+resetSets(cols, "null")+" where time >= $1", fromMS)
	if err_ != nil {
		return NewDbErr(core.ErrDbExecFail, err_)
	}
	return nil
}

// iterForCandles implements pgx.CopyFromSource.
type iterForCandles struct {
	rows                 []*Candle
	skippedFirstNextCall bool
}

func (r *iterForCandles) Next() bool {
	if len(r.rows) == 0 {
		return false
	}
	if !r.skippedFirstNextCall {
		r.skippedFirstNextCall = true
		return true
	}
	r.rows = r.rows[1:]
	return len(r.rows) > 0
}

func (r *iterForCandles) Values() ([]interface{}, error) {
	c := r.rows[0]
	return []interface{}{c.Time, c.Size, c.Order, c.Open, c.High, c.Low, c.Close, c.Volume, c.Feats[:], c.FeatsN[:]}, nil
}

func (r *iterForCandles) Err() error {
	return nil
}

func (s *PgStore) InsertCandles(ctx context.Context, rows []*Candle) *errs.Error {
	if len(rows) == 0 {
		return nil
	}
	cols := []string{"time", "size", "ord", "open", "high", "low", "close", "volume", "feats", "feats_n"}
	_, err_ := s.pool.CopyFrom(ctx, pgx.Identifier{"candle"}, cols, &iterForCandles{rows: rows})
	if err_ != nil {
		return NewDbErr(core.ErrDbExecFail, err_)
	}
	return nil
}

func (s *PgStore) ListCandles(ctx context.Context, startMS, stopMS int64) ([]*Candle, *errs.Error) {
	rows, err_ := s.pool.Query(ctx, "select "+candleFields+" from candle where time >= $1 and time < $2 order by time,size,ord",
		startMS, stopOrMax(stopMS))
	return mapToItems(rows, err_, func(row pgx.Rows) (*Candle, error) {
		c := &Candle{}
		var feats, featsN []float64
		err := row.Scan(&c.Time, &c.Size, &c.Order, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &feats, &featsN)
		if err != nil {
			return nil, err
		}
		if len(feats) != NumShape || len(featsN) != NumShape {
			return nil, fmt.Errorf("candle %v/%v/%v has bad feats size", c.Time, c.Size, c.Order)
		}
		copy(c.Feats[:], feats)
		copy(c.FeatsN[:], featsN)
		return c, nil
	})
}

func (s *PgStore) maxTime(ctx context.Context, table string) (int64, *errs.Error) {
	var res int64
	err_ := s.pool.QueryRow(ctx, fmt.Sprintf("select coalesce(max(time), -1) from %s", table)).Scan(&res)
	if err_ != nil {
		return -1, NewDbErr(core.ErrDbReadFail, err_)
	}
	return res, nil
}

func (s *PgStore) MaxCandleTime(ctx context.Context) (int64, *errs.Error) {
	return s.maxTime(ctx, "candle")
}

func (s *PgStore) InsertPatterns(ctx context.Context, rows []*Pattern) *errs.Error {
	if len(rows) == 0 {
		return nil
	}
	cols := []string{"time", "label", "label_edit", "feats"}
	_, err_ := s.pool.CopyFrom(ctx, pgx.Identifier{"pattern"}, cols, pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		p := rows[i]
		return []any{p.Time, p.Label, p.LabelEdit, p.Feats}, nil
	}))
	if err_ != nil {
		return NewDbErr(core.ErrDbExecFail, err_)
	}
	return nil
}

func (s *PgStore) ListPatterns(ctx context.Context, startMS, stopMS int64) ([]*Pattern, *errs.Error) {
	rows, err_ := s.pool.Query(ctx, "select "+patternFields+" from pattern where time >= $1 and time < $2 order by time",
		startMS, stopOrMax(stopMS))
	return mapToItems(rows, err_, func(row pgx.Rows) (*Pattern, error) {
		p := &Pattern{}
		err := row.Scan(&p.Time, &p.Label, &p.LabelEdit, &p.Feats)
		return p, err
	})
}

func (s *PgStore) MaxPatternTime(ctx context.Context) (int64, *errs.Error) {
	return s.maxTime(ctx, "pattern")
}

func (s *PgStore) GetRanges(ctx context.Context) ([]*RangeStat, *errs.Error) {
	rows, err_ := s.pool.Query(ctx, "select "+rangeFields+" from range_stat order by name")
	return mapToItems(rows, err_, func(row pgx.Rows) (*RangeStat, error) {
		r := &RangeStat{}
		err := row.Scan(&r.Name, &r.Mean, &r.Std, &r.Min, &r.Max, &r.Num)
		return r, err
	})
}

func (s *PgStore) PutRanges(ctx context.Context, rows []*RangeStat) *errs.Error {
	sqlText := fmt.Sprintf(`insert into range_stat (%s) values (%s) on conflict(name) do update set
mean=excluded.mean,std=excluded.std,min=excluded.min,max=excluded.max,num=excluded.num`, rangeFields, placeholders(6, pgPh))
	return s.sendBatch(ctx, len(rows), func(i int) (string, []any, *errs.Error) {
		r := rows[i]
		return sqlText, []any{r.Name, r.Mean, r.Std, r.Min, r.Max, r.Num}, nil
	})
}

func (s *PgStore) PurgeDerived(ctx context.Context) *errs.Error {
	_, err_ := s.pool.Exec(ctx, "truncate table range_stat, candle, pattern")
	if err_ != nil {
		return NewDbErr(core.ErrDbExecFail, err_)
	}
	return nil
}

func (s *PgStore) GetMeta(ctx context.Context, key string) (string, *errs.Error) {
	var val string
	err_ := s.pool.QueryRow(ctx, "select value from meta where key = $1", key).Scan(&val)
	if errors.Is(err_, pgx.ErrNoRows) {
		return "", nil
	} else if err_ != nil {
		return "", NewDbErr(core.ErrDbReadFail, err_)
	}
	return val, nil
}

func (s *PgStore) SetMeta(ctx context.Context, key, val string) *errs.Error {
	_, err_ := s.pool.Exec(ctx, "insert into meta (key, value) values ($1, $2) on conflict(key) do update set value=excluded.value",
		key, val)
	if err_ != nil {
		return NewDbErr(core.ErrDbExecFail, err_)
	}
	return nil
}

func (s *PgStore) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
