package mysql

import (
	"fmt"
	"time"
)

// Config 定義 MySQL 連線與連線池的配置
type Config struct {
	Host     string `yaml:"host" env:"LEDGER_MYSQL_HOST"`         // 資料庫主機地址
	Port     int    `yaml:"port" env:"LEDGER_MYSQL_PORT"`         // 資料庫埠號 (預設 3306)
	User     string `yaml:"user" env:"LEDGER_MYSQL_USER"`         // 使用者名稱
	Password string `yaml:"password" env:"LEDGER_MYSQL_PASSWORD"` // 密碼
	DBName   string `yaml:"dbname" env:"LEDGER_MYSQL_DBNAME"`     // 資料庫名稱

	// 連線池設定
	// 參考: https://github.com/go-sql-driver/mysql#important-settings
	MaxOpenConns    int           `yaml:"max_open_conns" env:"LEDGER_MYSQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"LEDGER_MYSQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"LEDGER_MYSQL_CONN_MAX_LIFETIME"`

	// 啟動時連線重試
	MaxRetries    int           `yaml:"max_retries" env:"LEDGER_MYSQL_MAX_RETRIES"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"LEDGER_MYSQL_RETRY_INTERVAL"`

	// GORM Log 等級: "silent", "error", "warn", "info"
	LogLevel string `yaml:"log_level" env:"LEDGER_MYSQL_LOG_LEVEL"`
}

// DefaultConfig 本機開發預設值
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            3306,
		User:            "root",
		Password:        "",
		DBName:          "ledger",
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		MaxRetries:      10,
		RetryInterval:   2 * time.Second,
		LogLevel:        "error",
	}
}

// DSN (Data Source Name) 產生連線字串
// 格式: user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=UTC
//
// 一律以 UTC 存取，避免 datetime 欄位隨主機時區漂移。
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}
