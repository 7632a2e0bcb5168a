package core

import (
	"context"
	"github.com/banbox/banexg/errs"
	"github.com/dgraph-io/ristretto"
)

var (
	Cache *ristretto.Cache
)

func Setup() *errs.Error {
	if Ctx == nil {
		Ctx, StopAll = context.WithCancel(context.Background())
	}
	var err_ error
	Cache, err_ = ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 26,
		BufferItems: 64,
	})
	if err_ != nil {
		return errs.New(ErrRunTime, err_)
	}
	return nil
}

func GetCacheVal[T any](key interface{}, defVal T) T {
	if Cache == nil {
		return defVal
	}
	obj, has := Cache.Get(key)
	if has {
		if val, ok := obj.(T); ok {
			return val
		}
	}
	return defVal
}

/*
SetCacheVal 写入缓存并等待生效，保证随后的读取能命中
*/
func SetCacheVal(key interface{}, val interface{}, cost int64) {
	if Cache == nil {
		return
	}
	Cache.Set(key, val, cost)
	Cache.Wait()
}

func DelCacheVal(key interface{}) {
	if Cache == nil {
		return
	}
	Cache.Del(key)
}
