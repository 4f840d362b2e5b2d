package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ledgergrpc "github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-outbox-ledger/pkg/grpc"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

// 對 core 服務跑一次完整情境，再以並發轉帳壓測
func main() {
	target := flag.String("target", "localhost:50051", "ledger gRPC address")
	total := flag.Int("n", 10000, "number of transfers in the load phase")
	concurrency := flag.Int("c", 100, "concurrent transfers")
	flag.Parse()

	logger, err := logging.NewLogger(logging.DevelopmentConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	pool := grpc.NewPool(grpc.WithLogger(logger))
	defer pool.Close()
	conn, err := pool.GetConnection(*target)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	client := ledgergrpc.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	src, dst, err := scenario(ctx, client, logger)
	if err != nil {
		logger.Fatal("scenario failed", zap.Error(err))
	}
	loadTest(ctx, client, logger, src, dst, *total, *concurrency)
}

// scenario 開戶、入金、轉帳後查詢讀模型與 outbox
func scenario(ctx context.Context, c *ledgergrpc.Client, logger *logging.Logger) (string, string, error) {
	open := func() (string, error) {
		resp, err := c.Call(ctx, ledgergrpc.MethodOpenAccount, map[string]any{
			"customerId": uuid.NewString(),
			"currency":   "USD",
		})
		if err != nil {
			return "", err
		}
		return resp["id"].(string), nil
	}
	src, err := open()
	if err != nil {
		return "", "", fmt.Errorf("open source: %w", err)
	}
	dst, err := open()
	if err != nil {
		return "", "", fmt.Errorf("open target: %w", err)
	}

	if _, err := c.Call(ctx, ledgergrpc.MethodCredit, map[string]any{"accountId": src, "amount": "1000000"}); err != nil {
		return "", "", fmt.Errorf("credit: %w", err)
	}

	tx, err := c.Call(ctx, ledgergrpc.MethodTransfer, map[string]any{
		"sourceAccountId": src,
		"targetAccountId": dst,
		"amount":          "25.50",
		"currency":        "USD",
		"reference":       "scenario",
	})
	if err != nil {
		return "", "", fmt.Errorf("transfer: %w", err)
	}
	logger.Info("transfer committed", zap.Any("transaction_id", tx["id"]), zap.Any("status", tx["status"]))

	// 讀模型為最終一致，等 dispatcher 與 consumer 跑完一輪
	time.Sleep(time.Second)
	balance, err := c.Call(ctx, ledgergrpc.MethodGetBalance, map[string]any{"accountId": dst})
	if err != nil {
		return "", "", fmt.Errorf("get balance: %w", err)
	}
	logger.Info("target balance", zap.Any("balance", balance["balance"]), zap.Any("available", balance["available"]))

	pending, err := c.Call(ctx, ledgergrpc.MethodListOutbox, map[string]any{"status": "pending"})
	if err != nil {
		return "", "", fmt.Errorf("list outbox: %w", err)
	}
	logger.Info("outbox pending", zap.Int("count", len(pending["messages"].([]any))))
	return src, dst, nil
}

func loadTest(ctx context.Context, c *ledgergrpc.Client, logger *logging.Logger, src, dst string, total, concurrency int) {
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	sem := make(chan struct{}, concurrency)
	start := time.Now()

	for i := 0; i < total; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := c.Call(ctx, ledgergrpc.MethodTransfer, map[string]any{
				"sourceAccountId": src,
				"targetAccountId": dst,
				"amount":          "1",
				"currency":        "USD",
				"reference":       fmt.Sprintf("load-%d", idx),
			})
			if err != nil {
				failed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	logger.Info("load test done",
		zap.Int("total", total),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("tps", float64(total)/elapsed.Seconds()))
}
