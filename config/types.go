package config

var (
	Data        Config
	Args        *CmdArgs
	Name        string
	Loaded      bool
	DataDir     string
	Averages    []*AvgConfig
	BarsAhead   int     // 确认枢轴点时向前后各检查的bar数量
	PercentCalc float64 // 计算标签时的阈值百分比 (0,50)
	PercentEdit float64 // 手动编辑标签时的阈值百分比 (0,50)
	BatchSize   int
	Workers     int
	ChunkSize   int
	ClampNorm   bool
	Prepare     bool
	Database    *DatabaseConfig
)

// Config 是根配置结构体
type Config struct {
	Name        string          `yaml:"name" mapstructure:"name"`
	Averages    []*AvgConfig    `yaml:"averages" mapstructure:"averages" validate:"required,min=1,dive,required"`
	BarsAhead   int             `yaml:"bars_ahead" mapstructure:"bars_ahead" validate:"gt=0"`
	PercentCalc float64         `yaml:"percent_calc" mapstructure:"percent_calc" validate:"gt=0,lt=50"`
	PercentEdit float64         `yaml:"percent_edit" mapstructure:"percent_edit" validate:"gt=0,lt=50"`
	BatchSize   int             `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=0"`
	Workers     int             `yaml:"workers" mapstructure:"workers" validate:"gte=0"`
	ChunkSize   int             `yaml:"chunk_size" mapstructure:"chunk_size" validate:"gte=0"`
	ClampNorm   bool            `yaml:"clamp_norm" mapstructure:"clamp_norm"`
	Prepare     bool            `yaml:"prepare" mapstructure:"prepare"`
	Database    *DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// AvgConfig 一个移动平均线定义，按周期升序配置
type AvgConfig struct {
	Type    string `yaml:"type" mapstructure:"type" validate:"required,oneof=sma ema rma wma"`
	Period  int    `yaml:"period" mapstructure:"period" validate:"gt=1"`
	Smooths []int  `yaml:"smooths" mapstructure:"smooths" validate:"required,min=1,dive,gt=0"`
}

type DatabaseConfig struct {
	Url         string `yaml:"url" mapstructure:"url"`
	MaxPoolSize int    `yaml:"max_pool_size" mapstructure:"max_pool_size"`
	BusyTimeout int64  `yaml:"busy_timeout" mapstructure:"busy_timeout"` // sqlite，毫秒
}
