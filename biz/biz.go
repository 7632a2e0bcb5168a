package biz

import (
	"context"

	"github.com/banbox/banexg/errs"
	"github.com/banbox/banexg/log"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/banbox/banlabel/config"
	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/orm"
)

/*
SetupComs 初始化全局上下文、配置、日志、缓存和存储；每个命令入口先调用一次
*/
func SetupComs(args *config.CmdArgs) *errs.Error {
	ctx, cancel := context.WithCancel(context.Background())
	core.Ctx = ctx
	core.StopAll = cancel
	err := config.LoadConfig(args)
	if err != nil {
		return err
	}
	log.Setup(args.LogLevel, args.Logfile)
	err = core.Setup()
	if err != nil {
		return err
	}
	err = orm.Setup()
	if err != nil {
		return err
	}
	core.RunID = uuid.NewString()
	log.Info("setup done", zap.String("run_id", core.RunID))
	return nil
}
