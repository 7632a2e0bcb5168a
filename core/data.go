package core

import "context"

var (
	Ctx     context.Context    // 全局上下文，取消时所有阶段停止
	StopAll context.CancelFunc // 停止全部运行的阶段
	RunID   string             // 当前流水线运行ID
)

const (
	DefaultBatchSize = 1000 // 缓存多少行后批量写入
	DefaultWorkers   = 20   // 批量写入的最大并发数
	DefaultChunkSize = 100  // 每个写入任务包含的行数
	DefaultDateFmt   = "2006-01-02 15:04:05"
)

const (
	NormBand = 2 // mean ± NormBand*std 映射到 [-1, 1]
)

// names of the pipeline stages, also used as progress titles
const (
	StagePrepare  = "prepare"
	StageZigZag   = "zigzag"
	StageLabel    = "label"
	StageRanges   = "ranges"
	StageCandles  = "candles"
	StagePatterns = "patterns"
)

var StageNames = []string{StagePrepare, StageZigZag, StageLabel, StageRanges, StageCandles, StagePatterns}

const (
	MetaAvgSet = "avg_set"
	MetaRunID  = "run_id"
)
