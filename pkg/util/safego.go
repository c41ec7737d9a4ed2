// safego.go — panic 隔离执行器，防止单个回调/协程崩溃整个进程。
package util

import (
	"runtime/debug"

	"github.com/mindgrid/go-chat-v2/pkg/logger"
)

// SafeGo 在新 goroutine 中安全执行 fn，捕获 panic 并记录日志 + 堆栈。
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					logger.FieldError, r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}

// SafeCall 同步执行 fn 并捕获 panic，返回是否 panic 过。
//
// 用于事件分发: 单个订阅者 panic 不能阻断同一事件向其余订阅者投递。
func SafeCall(fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logger.Error("handler panicked",
				logger.FieldError, r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
	return false
}
