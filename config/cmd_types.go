package config

type ArrString []string

func (i *ArrString) String() string {
	return "my string representation"
}

func (i *ArrString) Set(value string) error {
	*i = append(*i, value)
	return nil
}

type CmdArgs struct {
	Configs     ArrString
	Logfile     string
	DataDir     string
	NoDb        bool // 不连接数据库，使用内存存储
	NoDefault   bool
	LogLevel    string
	DbUrl       string
	MaxPoolSize int
	BatchSize   int
	Workers     int
	BarsAhead   int
	RawStages   string
	Stages      []string
	InPath      string
	OutPath     string
	ShowPrg     bool
	Force       bool
	EditMode    bool // 使用 percent_edit 计算标签
}
