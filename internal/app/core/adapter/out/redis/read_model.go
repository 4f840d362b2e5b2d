package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
)

// Config Redis 連線設定
type Config struct {
	Addr         string        `yaml:"addr" env:"LEDGER_REDIS_ADDR"`
	Username     string        `yaml:"username" env:"LEDGER_REDIS_USERNAME"`
	Password     string        `yaml:"password" env:"LEDGER_REDIS_PASSWORD"`
	DB           int           `yaml:"db" env:"LEDGER_REDIS_DB"`
	KeyPrefix    string        `yaml:"key_prefix" env:"LEDGER_REDIS_KEY_PREFIX"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig 本機預設值
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "ledger:balance:",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// BalanceReadModel 以 Redis 字串鍵儲存 JSON 餘額列，不設 TTL (讀模型可隨時重建)
type BalanceReadModel struct {
	client rueidis.Client
	prefix string
}

// NewBalanceReadModel 建立 Redis 讀模型並 PING 確認連線
//
// 參數:
//
//	cfg: 連線設定
//
// 回傳:
//
//	*BalanceReadModel: 實例
//	error: 建立連線或 PING 失敗
func NewBalanceReadModel(cfg Config) (*BalanceReadModel, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      []string{cfg.Addr},
		Username:         cfg.Username,
		Password:         cfg.Password,
		SelectDB:         cfg.DB,
		ConnWriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewBalanceReadModelWithClient(client, cfg.KeyPrefix), nil
}

// NewBalanceReadModelWithClient 使用既有 client
func NewBalanceReadModelWithClient(client rueidis.Client, prefix string) *BalanceReadModel {
	if prefix == "" {
		prefix = DefaultConfig().KeyPrefix
	}
	return &BalanceReadModel{client: client, prefix: prefix}
}

func (r *BalanceReadModel) key(accountID uuid.UUID) string {
	return r.prefix + accountID.String()
}

// Upsert last-write-wins 覆寫
func (r *BalanceReadModel) Upsert(ctx context.Context, balance domain.AccountBalance) error {
	data, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("redis upsert: marshal: %w", err)
	}
	cmd := r.client.B().Set().Key(r.key(balance.AccountID)).Value(string(data)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis upsert: %w", err)
	}
	return nil
}

// Get 找不到鍵時回傳 domain.ErrAccountNotFound
func (r *BalanceReadModel) Get(ctx context.Context, accountID uuid.UUID) (domain.AccountBalance, error) {
	resp := r.client.Do(ctx, r.client.B().Get().Key(r.key(accountID)).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return domain.AccountBalance{}, domain.ErrAccountNotFound
		}
		return domain.AccountBalance{}, fmt.Errorf("redis get: %w", err)
	}
	data, err := resp.AsBytes()
	if err != nil {
		return domain.AccountBalance{}, fmt.Errorf("redis get: read response: %w", err)
	}
	var balance domain.AccountBalance
	if err := json.Unmarshal(data, &balance); err != nil {
		return domain.AccountBalance{}, fmt.Errorf("redis get: unmarshal: %w", err)
	}
	return balance, nil
}

// Delete 移除單一帳戶的讀模型列
func (r *BalanceReadModel) Delete(ctx context.Context, accountID uuid.UUID) error {
	if err := r.client.Do(ctx, r.client.B().Del().Key(r.key(accountID)).Build()).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping 健康檢查
func (r *BalanceReadModel) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

func (r *BalanceReadModel) Close() {
	r.client.Close()
}

var _ usecase.BalanceReadModel = (*BalanceReadModel)(nil)
