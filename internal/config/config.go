package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/breaker"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/rabbitmq"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/outbox"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
	"github.com/JoeShih716/go-outbox-ledger/pkg/mysql"
)

// 儲存與匯流排的實作選擇
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// Config 服務完整設定
//
// 載入順序: 預設值 -> YAML 檔 -> 環境變數 (LEDGER_*)。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       logging.Config  `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	MySQL     mysql.Config    `yaml:"mysql"`
	ReadModel ReadModelConfig `yaml:"read_model"`
	Redis     redis.Config    `yaml:"redis"`
	Bus       BusConfig       `yaml:"bus"`
	RabbitMQ  rabbitmq.Config `yaml:"rabbitmq"`
	Breaker   breaker.Config  `yaml:"breaker"`
	Outbox    outbox.Config   `yaml:"outbox"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
}

// ServerConfig 對外監聽位址
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr" env:"LEDGER_GRPC_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"LEDGER_METRICS_ADDR"`
}

// StoreConfig 寫入端儲存
//
// Driver: memory (可選 WAL) 或 mysql
type StoreConfig struct {
	Driver  string `yaml:"driver" env:"LEDGER_STORE_DRIVER"`
	WALPath string `yaml:"wal_path" env:"LEDGER_WAL_PATH"`
}

// ReadModelConfig 餘額讀模型；Driver: memory 或 redis
type ReadModelConfig struct {
	Driver string `yaml:"driver" env:"LEDGER_READ_MODEL_DRIVER"`
}

// BusConfig 事件匯流排；Driver: memory 或 rabbitmq
type BusConfig struct {
	Driver string `yaml:"driver" env:"LEDGER_BUS_DRIVER"`
	Buffer int    `yaml:"buffer" env:"LEDGER_BUS_BUFFER"`
}

// LedgerConfig 帳本規則；AMLThreshold 以字串保存避免浮點誤差
type LedgerConfig struct {
	RequireBalanced bool   `yaml:"require_balanced" env:"LEDGER_REQUIRE_BALANCED"`
	AMLThreshold    string `yaml:"aml_threshold" env:"LEDGER_AML_THRESHOLD"`
}

// ConsumerConfig 事件消費端
type ConsumerConfig struct {
	Dedupe bool `yaml:"dedupe" env:"LEDGER_CONSUMER_DEDUPE"`
}

// Default 可直接在本機跑起來的預設值 (全部記憶體實作)
func Default() Config {
	return Config{
		Server: ServerConfig{
			GRPCAddr:    ":50051",
			MetricsAddr: ":9090",
		},
		Log:       logging.DefaultConfig(),
		Store:     StoreConfig{Driver: DriverMemory},
		MySQL:     mysql.DefaultConfig(),
		ReadModel: ReadModelConfig{Driver: DriverMemory},
		Redis:     redis.DefaultConfig(),
		Bus:       BusConfig{Driver: DriverMemory, Buffer: 1024},
		RabbitMQ:  rabbitmq.DefaultConfig(),
		Breaker:   breaker.DefaultConfig(),
		Outbox:    outbox.DefaultConfig(),
		Consumer:  ConsumerConfig{Dedupe: true},
	}
}

// Load 載入設定
//
// 參數:
//
//	path: YAML 檔路徑；空字串或檔案不存在時只使用預設值與環境變數
//
// 回傳:
//
//	Config: 設定
//	error: YAML 格式錯誤、環境變數格式錯誤或驗證失敗
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 檢查 driver 名稱與門檻格式
func (c *Config) Validate() error {
	var errs []error
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	c.ReadModel.Driver = strings.ToLower(c.ReadModel.Driver)
	c.Bus.Driver = strings.ToLower(c.Bus.Driver)

	if c.Store.Driver != DriverMemory && c.Store.Driver != DriverMySQL {
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q, got %q", DriverMemory, DriverMySQL, c.Store.Driver))
	}
	if c.ReadModel.Driver != DriverMemory && c.ReadModel.Driver != DriverRedis {
		errs = append(errs, fmt.Errorf("read_model.driver must be %q or %q, got %q", DriverMemory, DriverRedis, c.ReadModel.Driver))
	}
	if c.Bus.Driver != DriverMemory && c.Bus.Driver != DriverRabbitMQ {
		errs = append(errs, fmt.Errorf("bus.driver must be %q or %q, got %q", DriverMemory, DriverRabbitMQ, c.Bus.Driver))
	}
	if c.Server.GRPCAddr == "" {
		errs = append(errs, errors.New("server.grpc_addr is required"))
	}
	if _, err := c.Ledger.Threshold(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Threshold 解析 AML 門檻，空字串為 0 (不檢查)
func (l LedgerConfig) Threshold() (decimal.Decimal, error) {
	raw := strings.TrimSpace(l.AMLThreshold)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.aml_threshold: invalid decimal %q", raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("ledger.aml_threshold must not be negative")
	}
	return d, nil
}

// UseCase 轉成 usecase.LedgerConfig (需先通過 Validate)
func (l LedgerConfig) UseCase() usecase.LedgerConfig {
	threshold, _ := l.Threshold()
	return usecase.LedgerConfig{
		RequireBalanced: l.RequireBalanced,
		AMLThreshold:    threshold,
	}
}
