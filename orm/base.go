package orm

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banexg/log"
	utils2 "github.com/banbox/banexg/utils"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/banbox/banlabel/config"
	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/utils"
)

/*
Store 流水线读写的行存储。K线行只会原地更新派生列；窗口和Pattern行只插入不修改；
时间单位为毫秒，区间均为 [startMS, stopMS)，stopMS<=0 表示不限
*/
type Store interface {
	Size(ctx context.Context) (int, *errs.Error)
	// Get returns the bar at index in time order
	Get(ctx context.Context, index int) (*Bar, *errs.Error)
	ListBars(ctx context.Context, startMS, stopMS int64) ([]*Bar, *errs.Error)
	FindBarIndex(ctx context.Context, timeMS int64) (int, *errs.Error)
	InsertBars(ctx context.Context, rows []*Bar) *errs.Error
	UpdateBars(ctx context.Context, rows []*Bar, cols BarCol) *errs.Error
	// ResetBars restores cols of all bars with time >= fromMS to their initial values
	ResetBars(ctx context.Context, cols BarCol, fromMS int64) *errs.Error

	InsertCandles(ctx context.Context, rows []*Candle) *errs.Error
	ListCandles(ctx context.Context, startMS, stopMS int64) ([]*Candle, *errs.Error)
	// MaxCandleTime returns -1 when no candle exists
	MaxCandleTime(ctx context.Context) (int64, *errs.Error)

	InsertPatterns(ctx context.Context, rows []*Pattern) *errs.Error
	ListPatterns(ctx context.Context, startMS, stopMS int64) ([]*Pattern, *errs.Error)
	MaxPatternTime(ctx context.Context) (int64, *errs.Error)

	GetRanges(ctx context.Context) ([]*RangeStat, *errs.Error)
	PutRanges(ctx context.Context, rows []*RangeStat) *errs.Error
	// PurgeDerived deletes all ranges, candles and patterns
	PurgeDerived(ctx context.Context) *errs.Error

	GetMeta(ctx context.Context, key string) (string, *errs.Error)
	SetMeta(ctx context.Context, key, val string) *errs.Error
	Close()
}

const (
	DbMem    = "mem"
	DbSqlite = "sqlite"
	DbPg     = "postgres"
)

var (
	Default Store
)

/*
Setup 根据配置打开默认存储：-nodb 使用内存；postgres:// 开头的url使用pgx；其他作为sqlite文件路径
*/
func Setup() *errs.Error {
	if Default != nil {
		Default.Close()
		Default = nil
	}
	var err *errs.Error
	kind, url := DbKind()
	switch kind {
	case DbMem:
		Default = NewMemStore()
	case DbPg:
		Default, err = NewPgStore(context.Background(), url, config.Database.MaxPoolSize, config.Workers)
	default:
		busyMs := int64(5000)
		if config.Database != nil && config.Database.BusyTimeout > 0 {
			busyMs = config.Database.BusyTimeout
		}
		Default, err = NewLiteStore(url, busyMs)
	}
	if err != nil {
		return err
	}
	log.Info("store ready", zap.String("kind", kind), zap.String("url", utils.MaskDBUrl(url)))
	return nil
}

/*
DbKind 返回存储类型和连接地址
*/
func DbKind() (string, string) {
	if config.Args != nil && config.Args.NoDb {
		return DbMem, ""
	}
	url := ""
	if config.Database != nil {
		url = strings.TrimSpace(config.Database.Url)
	}
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DbPg, url
	}
	if url == "" {
		url = filepath.Join(config.GetDataDir(), "banlabel.db")
	}
	return DbSqlite, url
}

func NewDbErr(code int, err_ error) *errs.Error {
	var opErr *net.OpError
	var pgErr *pgconn.ConnectError
	if errors.As(err_, &opErr) {
		if strings.Contains(opErr.Err.Error(), "connection reset") {
			return errs.New(core.ErrDbConnFail, err_)
		}
	} else if errors.As(err_, &pgErr) {
		var errMsg = pgErr.Error()
		if strings.Contains(errMsg, "SQLSTATE 3D000") {
			return errs.NewMsg(core.ErrDbConnFail, "db not exist")
		}
	}
	return errs.New(code, err_)
}

func encodeFloats(arr []float64) (string, *errs.Error) {
	if arr == nil {
		return "", nil
	}
	text, err_ := utils2.MarshalString(arr)
	if err_ != nil {
		return "", errs.New(core.ErrMarshalFail, err_)
	}
	return text, nil
}

func decodeFloats(text string) ([]float64, *errs.Error) {
	if text == "" {
		return nil, nil
	}
	var res []float64
	err_ := utils2.UnmarshalString(text, &res, utils2.JsonNumDefault)
	if err_ != nil {
		return nil, errs.NewFull(errs.CodeUnmarshalFail, err_, "decode floats fail: %s", text)
	}
	return res, nil
}

func inRange(timeMS, startMS, stopMS int64) bool {
	return timeMS >= startMS && (stopMS <= 0 || timeMS < stopMS)
}

func stopOrMax(stopMS int64) int64 {
	if stopMS <= 0 {
		return 1<<63 - 1
	}
	return stopMS
}
