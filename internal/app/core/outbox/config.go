package outbox

import "time"

const (
	DefaultPollInterval   = time.Second
	DefaultBatchSize      = 100
	DefaultMaxAttempts    = 8
	DefaultPublishTimeout = 5 * time.Second
)

// Config 派送設定
//
// 結構:
//
//	PollInterval: 輪詢間隔
//	BatchSize: 每輪最多處理筆數
//	MaxAttempts: 發佈失敗達此次數轉為 dead
//	PublishTimeout: 單筆發佈逾時
type Config struct {
	PollInterval   time.Duration `yaml:"poll_interval" env:"LEDGER_OUTBOX_POLL_INTERVAL"`
	BatchSize      int           `yaml:"batch_size" env:"LEDGER_OUTBOX_BATCH_SIZE"`
	MaxAttempts    int           `yaml:"max_attempts" env:"LEDGER_OUTBOX_MAX_ATTEMPTS"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"LEDGER_OUTBOX_PUBLISH_TIMEOUT"`
}

// DefaultConfig 預設設定
func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		BatchSize:      DefaultBatchSize,
		MaxAttempts:    DefaultMaxAttempts,
		PublishTimeout: DefaultPublishTimeout,
	}
}

// normalized 未設定或非法的欄位套用預設值
func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	return c
}
