package config

import (
	"github.com/banbox/banlabel/utils"
)

func (a *CmdArgs) Init() {
	a.Stages = utils.SplitSolid(a.RawStages, ",")
}
