package utils

import (
	"math"
	"net/url"
	"strings"
)

const thresFloat64Eq = 1e-9

/*
DeepCopyMap 把src合并到dst；嵌套map递归合并，列表和其他值整体覆盖
*/
func DeepCopyMap(dst, src map[string]interface{}) {
	for k, v := range src {
		if vm, ok := v.(map[string]interface{}); ok {
			if bv, ok := dst[k]; ok {
				if bm, ok := bv.(map[string]interface{}); ok {
					DeepCopyMap(bm, vm)
					continue
				}
			}
		}
		dst[k] = v
	}
}

/*
SplitSolid 字符串分割，忽略返回结果中的空字符串
*/
func SplitSolid(text string, sep string) []string {
	arr := strings.Split(text, sep)
	result := []string{}
	for _, str := range arr {
		str = strings.TrimSpace(str)
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

/*
NumSign 获取数字的方向；1，-1或0
*/
func NumSign(val float64) int {
	if val > 0 {
		return 1
	} else if val < 0 {
		return -1
	}
	return 0
}

/*
EqualNearly 判断两个float是否近似相等，解决浮点精读导致不等
*/
func EqualNearly(a, b float64) bool {
	return EqualIn(a, b, thresFloat64Eq)
}

/*
EqualIn 判断两个float是否在一定范围内近似相等
*/
func EqualIn(a, b, thres float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.Abs(a-b) <= thres
}

/*
SafeNum 把NaN和Inf替换为0，便于保存到数据库
*/
func SafeNum(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func SafeDiv(a, b, def float64) float64 {
	if b == 0 {
		return def
	}
	return a / b
}

/*
MaskDBUrl 隐藏数据库连接地址中的密码，用于日志输出
*/
func MaskDBUrl(dbUrl string) string {
	u, err := url.Parse(dbUrl)
	if err != nil || u.User == nil {
		return dbUrl
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
