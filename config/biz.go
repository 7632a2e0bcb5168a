package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banbox/banlabel/core"
	"github.com/banbox/banlabel/utils"
	"github.com/banbox/banexg/errs"
	"github.com/banbox/banexg/log"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var val = validator.New(validator.WithRequiredStructEnabled())

func GetDataDir() string {
	if DataDir == "" {
		DataDir = getEnvPath("BanDataDir")
	}
	return DataDir
}

func getEnvPath(key string) string {
	text := strings.TrimSpace(os.Getenv(key))
	if text == "" {
		return ""
	}
	absPath, err := filepath.Abs(text)
	if err != nil {
		panic(err)
	}
	return absPath
}

func LoadConfig(args *CmdArgs) *errs.Error {
	if Loaded {
		return nil
	}
	cfg, err := GetConfig(args, true)
	if err != nil {
		return err
	}
	return ApplyConfig(args, cfg)
}

/*
GetConfig get config from args

args: NoDefault, Configs, DataDir, BarsAhead, BatchSize, Workers, DbUrl, MaxPoolSize
*/
func GetConfig(args *CmdArgs, showLog bool) (*Config, *errs.Error) {
	args.Init()
	if args.DataDir != "" {
		DataDir = args.DataDir
	}
	var paths []string
	if !args.NoDefault {
		dataDir := GetDataDir()
		if dataDir == "" {
			return nil, errs.NewMsg(errs.CodeParamRequired, "-datadir or env `BanDataDir` is required")
		}
		tryNames := []string{"config.yml", "config.local.yml"}
		for _, name := range tryNames {
			path := filepath.Join(dataDir, name)
			if _, err := os.Stat(path); err == nil {
				paths = append(paths, path)
			}
		}
	}
	paths = append(paths, args.Configs...)
	if len(paths) == 0 {
		return nil, errs.NewMsg(errs.CodeParamRequired, "no config file found")
	}
	res, err := ParseConfigs(paths, showLog)
	if err != nil {
		return nil, err
	}
	res.Apply(args)
	err = res.Validate()
	if err != nil {
		return nil, err
	}
	return res, nil
}

/*
ParseConfigs 按顺序读取并合并多个yaml配置，后面的覆盖前面的
*/
func ParseConfigs(paths []string, showLog bool) (*Config, *errs.Error) {
	var res Config
	var merged = make(map[string]interface{})
	for _, path := range paths {
		if showLog {
			log.Info("Using " + path)
		}
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.NewFull(core.ErrIOReadFail, err, "Read %s Fail", path)
		}
		var unpak map[string]interface{}
		err = yaml.Unmarshal(fileData, &unpak)
		if err != nil {
			return nil, errs.NewFull(errs.CodeUnmarshalFail, err, "Unmarshal %s Fail", path)
		}
		// averages 是有序列表，整体覆盖而不是合并
		utils.DeepCopyMap(merged, unpak)
	}
	err := mapstructure.Decode(merged, &res)
	if err != nil {
		return nil, errs.NewFull(errs.CodeUnmarshalFail, err, "decode Config Fail")
	}
	return &res, nil
}

/*
Apply 使用命令行参数覆盖配置，并填充默认值
*/
func (c *Config) Apply(args *CmdArgs) {
	if args != nil {
		if args.BarsAhead > 0 {
			c.BarsAhead = args.BarsAhead
		}
		if args.BatchSize > 0 {
			c.BatchSize = args.BatchSize
		}
		if args.Workers > 0 {
			c.Workers = args.Workers
		}
		if args.DbUrl != "" || args.MaxPoolSize > 0 {
			if c.Database == nil {
				c.Database = &DatabaseConfig{}
			}
			if args.DbUrl != "" {
				c.Database.Url = args.DbUrl
			}
			if args.MaxPoolSize > 0 {
				c.Database.MaxPoolSize = args.MaxPoolSize
			}
		}
	}
	if c.BatchSize == 0 {
		c.BatchSize = core.DefaultBatchSize
	}
	if c.Workers == 0 {
		c.Workers = core.DefaultWorkers
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = core.DefaultChunkSize
	}
}

/*
Validate 检查配置项范围；移动平均线之间的顺序和倍数关系由feats.NewAverageSet检查
*/
func (c *Config) Validate() *errs.Error {
	err := val.Struct(c)
	if err == nil {
		return nil
	}
	var ive *validator.InvalidValidationError
	if errors.As(err, &ive) {
		return errs.New(core.ErrBadConfig, err)
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			item := fmt.Sprintf("%s: %s", e.Namespace(), e.Tag())
			if e.Param() != "" {
				item += "=" + e.Param()
			}
			msgs = append(msgs, item)
		}
		return errs.NewMsg(core.ErrBadConfig, "invalid config: %s", strings.Join(msgs, ", "))
	}
	return errs.New(core.ErrBadConfig, err)
}

func ApplyConfig(args *CmdArgs, c *Config) *errs.Error {
	Args = args
	Data = *c
	Name = c.Name
	Averages = c.Averages
	BarsAhead = c.BarsAhead
	PercentCalc = c.PercentCalc
	PercentEdit = c.PercentEdit
	BatchSize = c.BatchSize
	Workers = c.Workers
	ChunkSize = c.ChunkSize
	ClampNorm = c.ClampNorm
	Prepare = c.Prepare
	Database = c.Database
	Loaded = true
	log.Info("config loaded", zap.String("name", Name), zap.Int("avgs", len(Averages)),
		zap.Int("bars_ahead", BarsAhead), zap.Float64("pct_calc", PercentCalc))
	return nil
}

func (c *Config) DumpYaml() ([]byte, *errs.Error) {
	data, err_ := yaml.Marshal(c)
	if err_ != nil {
		return nil, errs.New(core.ErrMarshalFail, err_)
	}
	return data, nil
}

/*
DumpYaml 导出当前生效的配置；desensitize为true时隐藏数据库密码
*/
func DumpYaml(desensitize bool) ([]byte, *errs.Error) {
	c := Data
	if desensitize && c.Database != nil {
		db := *c.Database
		db.Url = utils.MaskDBUrl(db.Url)
		c.Database = &db
	}
	return c.DumpYaml()
}
