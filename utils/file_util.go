package utils

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/banbox/banexg/errs"
)

func Exists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}

func EnsureDir(dir string, perm os.FileMode) error {
	if Exists(dir) {
		return nil
	}

	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("failed to create directory: '%s', error: '%s'", dir, err.Error())
	}

	return nil
}

func ReadCsvFile(path string) ([][]string, *errs.Error) {
	file, err_ := os.Open(path)
	if err_ != nil {
		return nil, errs.New(errs.CodeIOReadFail, err_)
	}
	defer file.Close()
	rows, err_ := csv.NewReader(file).ReadAll()
	if err_ != nil {
		return nil, errs.New(errs.CodeIOReadFail, err_)
	}
	return rows, nil
}

func WriteCsvFile(path string, rows [][]string) *errs.Error {
	file, err_ := os.Create(path)
	if err_ != nil {
		return errs.New(errs.CodeIOWriteFail, err_)
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	defer writer.Flush()
	err_ = writer.WriteAll(rows)
	if err_ != nil {
		return errs.New(errs.CodeIOWriteFail, err_)
	}
	return nil
}
