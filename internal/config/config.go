// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/mindgrid/go-chat-v2/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 推理后端
	BackendBaseURL  string `env:"BACKEND_BASE_URL" default:"http://127.0.0.1:1143"`
	BackendEventURL string `env:"BACKEND_EVENT_URL" default:"ws://127.0.0.1:1143/events"`
	BackendStateful bool   `env:"BACKEND_STATEFUL" default:"true"`
	RequestTimeout  int    `env:"REQUEST_TIMEOUT_SEC" default:"10" min:"1"`

	// 推送连接重连
	ReconnectBaseMS      int `env:"RECONNECT_BASE_MS" default:"3000" min:"100"`
	ReconnectMaxAttempts int `env:"RECONNECT_MAX_ATTEMPTS" default:"5" min:"1"`

	// 同步发送 (阻塞调用方) 自超时上限
	SyncSendCeilingSec int `env:"SYNC_SEND_CEILING_SEC" default:"30" min:"1"`

	// PostgreSQL (线程目录, 可选 — 为空时使用内存目录)
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`

	// 本地只读 API
	APIServerPort int `env:"API_SERVER_PORT" default:"4620" min:"1"`

	// 调试事件缓冲 (token-stats / debug-entry / process-log)
	DebugFeedLimit int `env:"DEBUG_FEED_LIMIT" default:"200" min:"1"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR" default:"logs"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
