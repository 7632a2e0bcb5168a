package entry

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banexg/log"
	"go.uber.org/zap"

	"github.com/banbox/banlabel/biz"
	"github.com/banbox/banlabel/config"
	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/orm"
)

/*
watchSignals 收到中断信号时取消全局上下文，正在执行的阶段写完当前批次后停止
*/
func watchSignals() {
	sigCtx, stop := signal.NotifyContext(core.Ctx, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer stop()
		<-sigCtx.Done()
		if core.Ctx.Err() == nil {
			log.Warn("signal received, stopping")
			core.StopAll()
		}
	}()
}

func setup(args *config.CmdArgs) *errs.Error {
	err := biz.SetupComs(args)
	if err != nil {
		return err
	}
	watchSignals()
	return nil
}

func RunPipeline(args *config.CmdArgs) *errs.Error {
	err := setup(args)
	if err != nil {
		return err
	}
	defer orm.Default.Close()
	return runStages(core.Ctx, args.Stages)
}

func stageEntry(stage string) FuncEntry {
	return func(args *config.CmdArgs) *errs.Error {
		err := setup(args)
		if err != nil {
			return err
		}
		defer orm.Default.Close()
		return runStages(core.Ctx, []string{stage})
	}
}

func runStages(ctx context.Context, stages []string) *errs.Error {
	p, err := biz.NewPipeline(orm.Default)
	if err != nil {
		return err
	}
	res, err := p.Run(ctx, stages)
	for _, r := range res {
		log.Info(r.String())
	}
	return err
}

func RunLoadCsv(args *config.CmdArgs) *errs.Error {
	if args.InPath == "" {
		return errs.NewMsg(errs.CodeParamRequired, "-in is required")
	}
	err := setup(args)
	if err != nil {
		return err
	}
	defer orm.Default.Close()
	num, err := biz.LoadBarsCsv(core.Ctx, orm.Default, args.InPath, config.BatchSize)
	if err != nil {
		return err
	}
	log.Info("load csv done", zap.Int("num", num))
	return nil
}

func RunExport(args *config.CmdArgs) *errs.Error {
	err := setup(args)
	if err != nil {
		return err
	}
	defer orm.Default.Close()
	outPath := args.OutPath
	if outPath == "" {
		outPath = filepath.Join(config.GetDataDir(), "patterns.xlsx")
	}
	_, err = biz.ExportPatterns(core.Ctx, orm.Default, outPath)
	if err != nil {
		return err
	}
	cfgData, err := config.DumpYaml(true)
	if err != nil {
		return err
	}
	cfgPath := filepath.Join(filepath.Dir(outPath), "config.yml")
	err_ := os.WriteFile(cfgPath, cfgData, 0644)
	if err_ != nil {
		return errs.New(core.ErrIOWriteFail, err_)
	}
	return nil
}

func RunStats(args *config.CmdArgs) *errs.Error {
	err := setup(args)
	if err != nil {
		return err
	}
	defer orm.Default.Close()
	err = biz.PrintRanges(core.Ctx, orm.Default, os.Stdout)
	if err != nil {
		return err
	}
	return biz.PrintLabelCorr(core.Ctx, orm.Default, os.Stdout, 30)
}
