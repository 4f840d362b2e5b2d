package grpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

// GrpcServer 將 gRPC 請求轉成 CoreUseCase 呼叫
type GrpcServer struct {
	core   *usecase.CoreUseCase
	logger *logging.Logger
}

func NewGrpcServer(core *usecase.CoreUseCase, logger *logging.Logger) *GrpcServer {
	return &GrpcServer{
		core:   core,
		logger: logger.Named("grpc"),
	}
}

// NewServer 建立已註冊帳本服務與 health service 的 grpc.Server
//
// 參數:
//
//	core: 業務入口
//	logger: 日誌
//	opts: 額外的 ServerOption
//
// 回傳:
//
//	*grpc.Server: 尚未 Serve 的伺服器
//	*health.Server: health 狀態，可於關機時 Shutdown
func NewServer(core *usecase.CoreUseCase, logger *logging.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	srv := NewGrpcServer(core, logger)
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(srv.loggingInterceptor)}, opts...)
	s := grpc.NewServer(opts...)
	RegisterLedgerServiceServer(s, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

// loggingInterceptor 記錄每個 RPC 的狀態碼與耗時
func (s *GrpcServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.String("code", code.String()),
		zap.Duration("latency", time.Since(start)),
	}
	switch code {
	case codes.OK:
		s.logger.Debug("rpc", fields...)
	case codes.Internal, codes.Unknown:
		s.logger.Error("rpc failed", append(fields, zap.Error(err))...)
	default:
		s.logger.Info("rpc rejected", append(fields, zap.Error(err))...)
	}
	return resp, err
}

// toStatus 依錯誤分類對應 gRPC 狀態碼
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	switch domain.Kind(err) {
	case "not_found":
		return status.Error(codes.NotFound, err.Error())
	case "invalid_amount", "invalid_input":
		return status.Error(codes.InvalidArgument, err.Error())
	case "invalid_transition", "invalid_state", "insufficient_funds":
		return status.Error(codes.FailedPrecondition, err.Error())
	case "duplicate_alias":
		return status.Error(codes.AlreadyExists, err.Error())
	case "concurrent_update":
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func accountReply(acc *domain.Account, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(encodeAccount(acc))
}

func transactionReply(tx *domain.Transaction, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(encodeTransaction(tx))
}

func (s *GrpcServer) OpenAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	customerID, err := f.uuid("customerId")
	if err != nil {
		return nil, err
	}
	return accountReply(s.core.OpenAccount(ctx, customerID, f.str("currency")))
}

func (s *GrpcServer) AddAlias(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	accountID, err := f.uuid("accountId")
	if err != nil {
		return nil, err
	}
	alias, err := s.core.AddAlias(ctx, accountID, f.str("type"), f.str("value"))
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(encodeAlias(alias))
}

func (s *GrpcServer) Reserve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	accountID, err := f.uuid("accountId")
	if err != nil {
		return nil, err
	}
	amount, err := f.decimal("amount")
	if err != nil {
		return nil, err
	}
	hold, err := s.core.Reserve(ctx, accountID, amount, f.str("reference"))
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(encodeHold(hold))
}

func (s *GrpcServer) Release(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	accountID, err := f.uuid("accountId")
	if err != nil {
		return nil, err
	}
	holdID, err := f.uuid("holdId")
	if err != nil {
		return nil, err
	}
	return accountReply(s.core.Release(ctx, accountID, holdID))
}

func (s *GrpcServer) Debit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	accountID, err := f.uuid("accountId")
	if err != nil {
		return nil, err
	}
	amount, err := f.decimal("amount")
	if err != nil {
		return nil, err
	}
	return accountReply(s.core.Debit(ctx, accountID, amount))
}

func (s *GrpcServer) Credit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	accountID, err := f.uuid("accountId")
	if err != nil {
		return nil, err
	}
	amount, err := f.decimal("amount")
	if err != nil {
		return nil, err
	}
	return accountReply(s.core.Credit(ctx, accountID, amount))
}

func (s *GrpcServer) FreezeAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := newFields(req).uuid("accountId")
	if err != nil {
		return nil, err
	}
	return accountReply(s.core.FreezeAccount(ctx, accountID))
}

func (s *GrpcServer) UnfreezeAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := newFields(req).uuid("accountId")
	if err != nil {
		return nil, err
	}
	return accountReply(s.core.UnfreezeAccount(ctx, accountID))
}

func (s *GrpcServer) CloseAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := newFields(req).uuid("accountId")
	if err != nil {
		return nil, err
	}
	return accountReply(s.core.CloseAccount(ctx, accountID))
}

func (s *GrpcServer) GetAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := newFields(req).uuid("accountId")
	if err != nil {
		return nil, err
	}
	return accountReply(s.core.GetAccount(ctx, accountID))
}

// GetBalance 讀模型餘額 (最終一致)
func (s *GrpcServer) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := newFields(req).uuid("accountId")
	if err != nil {
		return nil, err
	}
	balance, err := s.core.GetBalance(ctx, accountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(encodeBalance(balance))
}

func (s *GrpcServer) RebuildReadModel(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.core.RebuildReadModel(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"rebuilt": n})
}

func (s *GrpcServer) CreateTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	initiatedBy, err := f.optUUID("initiatedBy")
	if err != nil {
		return nil, err
	}
	postings, err := f.postings("entries")
	if err != nil {
		return nil, err
	}
	return transactionReply(s.core.CreateTransaction(ctx, f.str("type"), initiatedBy, postings))
}

func (s *GrpcServer) CommitTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := newFields(req).uuid("transactionId")
	if err != nil {
		return nil, err
	}
	return transactionReply(s.core.CommitTransaction(ctx, id))
}

func (s *GrpcServer) ReverseTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := newFields(req).uuid("transactionId")
	if err != nil {
		return nil, err
	}
	return transactionReply(s.core.ReverseTransaction(ctx, id))
}

func (s *GrpcServer) GetTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := newFields(req).uuid("transactionId")
	if err != nil {
		return nil, err
	}
	return transactionReply(s.core.GetTransaction(ctx, id))
}

// Transfer 凍結來源款項後建立並提交雙邊交易
func (s *GrpcServer) Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	source, err := f.uuid("sourceAccountId")
	if err != nil {
		return nil, err
	}
	target, err := f.uuid("targetAccountId")
	if err != nil {
		return nil, err
	}
	amount, err := f.decimal("amount")
	if err != nil {
		return nil, err
	}
	initiatedBy, err := f.optUUID("initiatedBy")
	if err != nil {
		return nil, err
	}
	return transactionReply(s.core.Transfer(ctx, usecase.TransferRequest{
		SourceAccountID: source,
		TargetAccountID: target,
		Amount:          amount,
		Currency:        f.str("currency"),
		InitiatedBy:     initiatedBy,
		Reference:       f.str("reference"),
	}))
}

func (s *GrpcServer) ListOutbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	st, err := domain.ParseOutboxStatus(f.str("status"))
	if err != nil {
		return nil, invalidArg("status: %v", err)
	}
	msgs, err := s.core.ListOutbox(ctx, st, f.int("limit"))
	if err != nil {
		return nil, toStatus(err)
	}
	items := make([]any, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, encodeOutbox(m))
	}
	return reply(map[string]any{"messages": items})
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
