package utils

import (
	"github.com/banbox/banexg/errs"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

/*
CalcCorrMat 计算多列序列的皮尔逊相关系数矩阵。dataArr每项是一列，长度需一致
*/
func CalcCorrMat(dataArr [][]float64) (*mat.SymDense, *errs.Error) {
	if len(dataArr) <= 1 {
		return nil, errs.NewMsg(errs.CodeParamInvalid, "at least two series are required")
	}
	numCols := len(dataArr)
	arrLen := len(dataArr[0])
	if arrLen < 2 {
		return nil, errs.NewMsg(errs.CodeParamInvalid, "series too short: %v", arrLen)
	}
	for i, col := range dataArr {
		if len(col) != arrLen {
			return nil, errs.NewMsg(errs.CodeParamInvalid, "col %v length %v != %v", i, len(col), arrLen)
		}
	}
	matrixData := make([]float64, 0, numCols*arrLen)
	for i := 0; i < arrLen; i++ {
		for j := 0; j < numCols; j++ {
			matrixData = append(matrixData, dataArr[j][i])
		}
	}
	corrMat := mat.NewSymDense(numCols, nil)
	stat.CorrelationMatrix(corrMat, mat.NewDense(arrLen, numCols, matrixData), nil)
	return corrMat, nil
}
