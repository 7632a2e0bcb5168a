package utils

import (
	"sync"

	"github.com/banbox/banexg/errs"
)

/*
ParallelRun 以最多concurNum个协程并发处理items；返回遇到的第一个错误。
出现错误后不再启动新任务，已启动的任务会执行完毕
*/
func ParallelRun[T any](items []T, concurNum int, handle func(int, T) *errs.Error) *errs.Error {
	if concurNum <= 0 {
		concurNum = 1
	}
	guard := make(chan struct{}, concurNum)
	var wg sync.WaitGroup
	var lock sync.Mutex
	var retErr *errs.Error
	for i, item := range items {
		// 如果达到并发限制，这里会阻塞等待
		guard <- struct{}{}
		lock.Lock()
		stop := retErr != nil
		lock.Unlock()
		if stop {
			<-guard
			break
		}
		wg.Add(1)
		go func(idx int, it T) {
			defer func() {
				// 完成一个任务，从chan弹出一个
				<-guard
				wg.Done()
			}()
			err := handle(idx, it)
			if err != nil {
				lock.Lock()
				if retErr == nil {
					retErr = err
				}
				lock.Unlock()
			}
		}(i, item)
	}
	wg.Wait()
	return retErr
}
