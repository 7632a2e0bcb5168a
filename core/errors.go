package core

import "github.com/banbox/banexg/errs"

const (
	ErrBadConfig = -1*iota - 100
	ErrInvalidPath
	ErrIOReadFail
	ErrIOWriteFail
	ErrDbConnFail
	ErrDbReadFail
	ErrDbExecFail
	ErrDbUniqueViolation
	ErrInvalidBars
	ErrMissingBar
	ErrPivotConflict
	ErrRunTime
	ErrMarshalFail
)

var ErrCodeNames = map[int]string{
	ErrBadConfig:         "BadConfig",
	ErrInvalidPath:       "InvalidPath",
	ErrIOReadFail:        "IOReadFail",
	ErrIOWriteFail:       "IOWriteFail",
	ErrDbConnFail:        "DbConnFail",
	ErrDbReadFail:        "DbReadFail",
	ErrDbExecFail:        "DbExecFail",
	ErrDbUniqueViolation: "DbUniqueViolation",
	ErrInvalidBars:       "InvalidBars",
	ErrMissingBar:        "MissingBar",
	ErrPivotConflict:     "PivotConflict",
	ErrRunTime:           "RunTime",
	ErrMarshalFail:       "MarshalFail",
}

func init() {
	errs.UpdateErrNames(ErrCodeNames)
}

func ErrName(code int) string {
	if name, ok := ErrCodeNames[code]; ok {
		return name
	}
	return ""
}
