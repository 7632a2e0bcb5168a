package core

import (
	"context"
)

/*
CheckCancel 检查上下文是否已取消；每处理一个bar前调用一次
*/
func CheckCancel(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
