package entry

import (
	"fmt"

	"github.com/banbox/banexg/errs"

	"github.com/banbox/banlabel/config"
	"github.com/banbox/banlabel/core"
)

type FuncEntry = func(args *config.CmdArgs) *errs.Error

type CmdJob struct {
	Name    string
	Run     FuncEntry
	Options []string
	Help    string
}

var (
	jobNames = make([]string, 0, 10)
	jobMap   = make(map[string]*CmdJob)
)

func AddCmdJob(job *CmdJob) {
	if _, ok := jobMap[job.Name]; ok {
		panic(fmt.Sprint("duplicate cmd job: ", job.Name))
	}
	jobMap[job.Name] = job
	jobNames = append(jobNames, job.Name)
}

func GetCmdJob(name string) *CmdJob {
	return jobMap[name]
}

var stageOpts = []string{"prg", "bars_ahead", "batch_size", "workers", "db_url"}

func init() {
	AddCmdJob(&CmdJob{
		Name:    "run",
		Run:     RunPipeline,
		Options: append([]string{"stages", "force", "edit"}, stageOpts...),
		Help:    "run pipeline stages in order, all stages by default",
	})
	AddCmdJob(&CmdJob{
		Name:    core.StagePrepare,
		Run:     stageEntry(core.StagePrepare),
		Options: stageOpts,
		Help:    "calculate averages, slopes and spreads from closes",
	})
	AddCmdJob(&CmdJob{
		Name:    core.StageZigZag,
		Run:     stageEntry(core.StageZigZag),
		Options: stageOpts,
		Help:    "detect pivots, full recompute",
	})
	AddCmdJob(&CmdJob{
		Name:    core.StageLabel,
		Run:     stageEntry(core.StageLabel),
		Options: append([]string{"edit"}, stageOpts...),
		Help:    "label bars by pivots, full recompute",
	})
	AddCmdJob(&CmdJob{
		Name:    core.StageRanges,
		Run:     stageEntry(core.StageRanges),
		Options: append([]string{"force"}, stageOpts...),
		Help:    "calculate ranges and normalize slopes/spreads",
	})
	AddCmdJob(&CmdJob{
		Name:    core.StageCandles,
		Run:     stageEntry(core.StageCandles),
		Options: stageOpts,
		Help:    "build multi-resolution candles, resume from last watermark",
	})
	AddCmdJob(&CmdJob{
		Name:    core.StagePatterns,
		Run:     stageEntry(core.StagePatterns),
		Options: stageOpts,
		Help:    "assemble patterns from candles, resume from last watermark",
	})
	AddCmdJob(&CmdJob{
		Name:    "load",
		Run:     RunLoadCsv,
		Options: []string{"in", "batch_size", "db_url"},
		Help:    "load bars from csv file",
	})
	AddCmdJob(&CmdJob{
		Name:    "export",
		Run:     RunExport,
		Options: []string{"out", "db_url"},
		Help:    "export patterns to xlsx/csv",
	})
	AddCmdJob(&CmdJob{
		Name:    "stats",
		Run:     RunStats,
		Options: []string{"db_url"},
		Help:    "print saved range stats",
	})
}
