package config

import (
	"time"
)

const (
	NameService = "seetrace"

	TracerName    = "seetrace/replay"
	TracerVersion = "0.0.1"
)

// for root
var (
	Debug = false
)

// for cmd replay
var (
	// 默认导出方式，可选 stdout、grpc、tree、none
	DefaultExporter = "stdout"

	// OTLP collector 地址
	DefaultOTLPEndpoint = "localhost:4317"

	// 默认预置词汇表
	DefaultPreset = PresetPublish
)

// for cmd serve
var (
	// 扫描 spool 目录的时间间隔
	SpoolInterval = 10 * time.Second

	// spool 目录中匹配的日志文件
	SpoolGlob = "*.log*"

	// 记住已回放文件的数量
	MaxNumSpooled = 4096
)

// for pkg tracer
var (
	// 词汇表允许的最大嵌套层数
	MaxDepth = 8

	// lookahead 模式下默认的预读行数
	DefaultWindow = 6

	// 预读窗口中最多跳过的其它 chain 的行
	MaxForeignLines = 64

	// 缓存最近回放报告的数量
	MaxNumReports = 16

	// 单行最大长度，babeltrace 的行可能很长
	MaxLineBytes = 1 << 20
)
