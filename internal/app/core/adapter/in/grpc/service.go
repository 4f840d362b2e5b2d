package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName 完整服務名稱
const ServiceName = "ledger.v1.LedgerService"

// RPC 方法名稱
const (
	MethodOpenAccount        = "OpenAccount"
	MethodAddAlias           = "AddAlias"
	MethodReserve            = "Reserve"
	MethodRelease            = "Release"
	MethodDebit              = "Debit"
	MethodCredit             = "Credit"
	MethodFreezeAccount      = "FreezeAccount"
	MethodUnfreezeAccount    = "UnfreezeAccount"
	MethodCloseAccount       = "CloseAccount"
	MethodGetAccount         = "GetAccount"
	MethodGetBalance         = "GetBalance"
	MethodRebuildReadModel   = "RebuildReadModel"
	MethodCreateTransaction  = "CreateTransaction"
	MethodCommitTransaction  = "CommitTransaction"
	MethodReverseTransaction = "ReverseTransaction"
	MethodGetTransaction     = "GetTransaction"
	MethodTransfer           = "Transfer"
	MethodListOutbox         = "ListOutbox"
)

// LedgerServiceServer 帳本服務；請求與回應皆為 google.protobuf.Struct
type LedgerServiceServer interface {
	OpenAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AddAlias(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reserve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Release(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Debit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Credit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	FreezeAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UnfreezeAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CloseAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RebuildReadModel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CreateTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CommitTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReverseTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListOutbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv LedgerServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unary 產生與 protoc-gen-go-grpc 相同形狀的 MethodDesc
func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(LedgerServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod 回傳 "/ledger.v1.LedgerService/<method>"
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// LedgerServiceDesc 手寫的服務描述
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodOpenAccount, LedgerServiceServer.OpenAccount),
		unary(MethodAddAlias, LedgerServiceServer.AddAlias),
		unary(MethodReserve, LedgerServiceServer.Reserve),
		unary(MethodRelease, LedgerServiceServer.Release),
		unary(MethodDebit, LedgerServiceServer.Debit),
		unary(MethodCredit, LedgerServiceServer.Credit),
		unary(MethodFreezeAccount, LedgerServiceServer.FreezeAccount),
		unary(MethodUnfreezeAccount, LedgerServiceServer.UnfreezeAccount),
		unary(MethodCloseAccount, LedgerServiceServer.CloseAccount),
		unary(MethodGetAccount, LedgerServiceServer.GetAccount),
		unary(MethodGetBalance, LedgerServiceServer.GetBalance),
		unary(MethodRebuildReadModel, LedgerServiceServer.RebuildReadModel),
		unary(MethodCreateTransaction, LedgerServiceServer.CreateTransaction),
		unary(MethodCommitTransaction, LedgerServiceServer.CommitTransaction),
		unary(MethodReverseTransaction, LedgerServiceServer.ReverseTransaction),
		unary(MethodGetTransaction, LedgerServiceServer.GetTransaction),
		unary(MethodTransfer, LedgerServiceServer.Transfer),
		unary(MethodListOutbox, LedgerServiceServer.ListOutbox),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

// RegisterLedgerServiceServer 註冊到 grpc.Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// Client 以 Struct 呼叫帳本服務
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient 包裝既有連線
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call 呼叫指定方法
//
// 參數:
//
//	ctx: 逾時與取消
//	method: 方法名稱 (MethodXxx)
//	req: 請求欄位，值需為 structpb 可表示的型別
//
// 回傳:
//
//	map[string]any: 回應欄位
//	error: 編碼失敗或 gRPC status error
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
