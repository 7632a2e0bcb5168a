package entry

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/banbox/banexg/log"
	"go.uber.org/zap"

	"github.com/banbox/banlabel/config"
	"github.com/banbox/banlabel/core"
)

const VERSION = "0.1.0"

func RunCmd() {
	if len(os.Args) < 2 {
		printAndExit()
		return
	}
	runSubCmd(os.Args[1:], printAndExit)
}

func printAndExit() {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("\nbanlabel %v\nplease run with a subcommand:\n", VERSION))
	for _, name := range jobNames {
		b.WriteString(fmt.Sprintf("\t%-10s %s\n", name+":", jobMap[name].Help))
	}
	log.Warn(b.String())
	os.Exit(1)
}

func runSubCmd(sysArgs []string, printExit func()) {
	name, subArgs := sysArgs[0], sysArgs[1:]
	job := GetCmdJob(name)
	if job == nil {
		printExit()
		return
	}
	var args config.CmdArgs
	var sub = flag.NewFlagSet(name, flag.ExitOnError)
	bindSubFlags(&args, sub, job.Options...)
	err_ := sub.Parse(subArgs)
	if err_ != nil {
		log.Error("fail", zap.Error(err_))
		printExit()
		return
	}
	args.Init()
	err := job.Run(&args)
	if err != nil {
		log.Error("run fail", zap.String("cmd", name), zap.String("code", core.ErrName(err.Code)), zap.Error(err))
		os.Exit(1)
	}
	os.Exit(0)
}

func bindSubFlags(args *config.CmdArgs, cmd *flag.FlagSet, opts ...string) {
	cmd.Var(&args.Configs, "config", "config path to use, Multiple -config options may be used")
	cmd.StringVar(&args.Logfile, "logfile", "", "Log to the file specified")
	cmd.StringVar(&args.DataDir, "datadir", "", "Path to data dir.")
	cmd.BoolVar(&args.NoDb, "nodb", false, "use in-memory store, nothing is saved")
	cmd.StringVar(&args.LogLevel, "level", "info", "set logging level to debug")
	cmd.BoolVar(&args.NoDefault, "no-default", false, "ignore default: config.yml, config.local.yml")
	cmd.IntVar(&args.MaxPoolSize, "max-pool-size", 0, "max pool size for db")

	for _, key := range opts {
		switch key {
		case "stages":
			cmd.StringVar(&args.RawStages, "stages", "", "comma-separated stages to run")
		case "force":
			cmd.BoolVar(&args.Force, "force", false, "purge ranges, candles and patterns before run")
		case "edit":
			cmd.BoolVar(&args.EditMode, "edit", false, "label with `percent_edit`")
		case "prg":
			cmd.BoolVar(&args.ShowPrg, "prg", false, "show progress bar")
		case "bars_ahead":
			cmd.IntVar(&args.BarsAhead, "bars-ahead", 0, "Override `bars_ahead` in config")
		case "batch_size":
			cmd.IntVar(&args.BatchSize, "batch-size", 0, "Override `batch_size` in config")
		case "workers":
			cmd.IntVar(&args.Workers, "workers", 0, "Override `workers` in config")
		case "db_url":
			cmd.StringVar(&args.DbUrl, "db", "", "postgres url or sqlite file path")
		case "in":
			cmd.StringVar(&args.InPath, "in", "", "input file or directory")
		case "out":
			cmd.StringVar(&args.OutPath, "out", "", "output file or directory")
		default:
			log.Warn(fmt.Sprintf("undefined argument: %s", key))
			os.Exit(1)
		}
	}
}
