// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/agentdeck/go-deck-v2/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Agent 子进程
	AgentCommand    string `env:"AGENT_COMMAND" default:"deck-agent"`
	AgentSpawnSec   int    `env:"AGENT_SPAWN_TIMEOUT_SEC" default:"15" min:"1"`
	AgentStderrMax  int    `env:"AGENT_STDERR_MAX_BYTES" default:"262144" min:"1024"`
	AgentScanBufKiB int    `env:"AGENT_SCAN_BUF_KIB" default:"1024" min:"64"`

	// 引擎
	BindQueueCap       int `env:"ENGINE_BIND_QUEUE_CAP" default:"10" min:"1"`
	BindSweepSec       int `env:"ENGINE_BIND_SWEEP_SEC" default:"30" min:"1"`
	BindTimeoutSec     int `env:"ENGINE_BIND_TIMEOUT_SEC" default:"30" min:"1"`
	SnapshotPeriodSec  int `env:"ENGINE_SNAPSHOT_PERIOD_SEC" default:"30" min:"1"`
	WatchdogQuietSec   int `env:"ENGINE_WATCHDOG_QUIET_SEC" default:"120" min:"1"`
	WatchdogTickSec    int `env:"ENGINE_WATCHDOG_TICK_SEC" default:"5" min:"1"`
	ReasoningHoldSec   int `env:"ENGINE_REASONING_HOLD_SEC" default:"4" min:"1"`
	EventChanCapacity  int `env:"ENGINE_EVENT_CHAN_CAP" default:"256" min:"16"`
	EventLogMaxPayload int `env:"ENGINE_EVENT_LOG_MAX_PAYLOAD" default:"65536" min:"1024"`

	// PostgreSQL
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`

	// Dashboard (展示层适配)
	DashboardAddr string `env:"DASHBOARD_ADDR" default:":8080"`

	// 远程命令同步通道 (为空则禁用)
	RemoteSyncURL        string `env:"REMOTE_SYNC_URL"`
	RemoteReconnectSec   int    `env:"REMOTE_RECONNECT_SEC" default:"5" min:"1"`
	RemoteReconnectMax   int    `env:"REMOTE_RECONNECT_MAX_SEC" default:"60" min:"1"`
	RemoteWriteDeadlines int    `env:"REMOTE_WRITE_DEADLINE_SEC" default:"10" min:"1"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
