package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 包裝 zap.Logger，由 main 建立後往下傳遞，不使用全域實例
type Logger struct {
	*zap.Logger
}

// Config 日誌設定
//
// 結構:
//
//	Level: debug / info / warn / error
//	Format: json 或 console
//	Development: 開發模式 (彩色輸出、DPanic 會 panic)
type Config struct {
	Level       string   `yaml:"level" env:"LEDGER_LOG_LEVEL"`
	Format      string   `yaml:"format" env:"LEDGER_LOG_FORMAT"`
	Development bool     `yaml:"development" env:"LEDGER_LOG_DEV"`
	OutputPaths []string `yaml:"output_paths"`
}

// DefaultConfig 正式環境預設值
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DevelopmentConfig 本機開發用設定
func DevelopmentConfig() Config {
	return Config{
		Level:       "debug",
		Format:      "console",
		Development: true,
		OutputPaths: []string{"stdout"},
	}
}

// NewLogger 依設定建立 Logger
//
// 參數:
//
//	cfg: 日誌設定
//
// 回傳:
//
//	*Logger: Logger 實例
//	error: 等級或格式錯誤
func NewLogger(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "console" {
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		DisableCaller:     !cfg.Development,
		DisableStacktrace: !cfg.Development,
		Encoding:          format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
	}
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{logger}, nil
}

// NewNopLogger 丟棄所有輸出，測試用
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// ParseLevel 解析日誌等級字串，空字串視為 info
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// With 附加欄位的子 Logger
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Named 具名子 Logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}
