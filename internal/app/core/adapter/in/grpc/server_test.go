package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

type harness struct {
	client *Client
	conn   *grpc.ClientConn
}

func setup(t *testing.T) *harness {
	t.Helper()
	logger := logging.NewNopLogger()
	ledger, err := memory.NewLedgerStore(nil)
	require.NoError(t, err)
	accounts := usecase.NewAccountService(memory.NewAccountStore(), memory.NewBalanceReadModel(), logger)
	ledgerSvc := usecase.NewLedgerService(ledger, ledger, accounts, usecase.LedgerConfig{}, logger)
	core := usecase.NewCoreUseCase(accounts, ledgerSvc)

	lis := bufconn.Listen(1 << 20)
	srv, _ := NewServer(core, logger)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &harness{client: NewClient(conn), conn: conn}
}

func (h *harness) call(t *testing.T, method string, req map[string]any) map[string]any {
	t.Helper()
	resp, err := h.client.Call(context.Background(), method, req)
	require.NoError(t, err)
	return resp
}

func (h *harness) open(t *testing.T, currency string) string {
	t.Helper()
	resp := h.call(t, MethodOpenAccount, map[string]any{"customerId": uuid.NewString(), "currency": currency})
	return resp["id"].(string)
}

func TestServer_AccountLifecycle(t *testing.T) {
	h := setup(t)
	id := h.open(t, "usd")

	acc := h.call(t, MethodCredit, map[string]any{"accountId": id, "amount": "100.50"})
	assert.Equal(t, "USD", acc["currency"])
	assert.Equal(t, "100.5", acc["balance"])

	hold := h.call(t, MethodReserve, map[string]any{"accountId": id, "amount": "40", "reference": "order-1"})
	assert.Equal(t, string(domain.HoldStatusActive), hold["status"])

	balance := h.call(t, MethodGetBalance, map[string]any{"accountId": id})
	assert.Equal(t, "100.5", balance["balance"])
	assert.Equal(t, "60.5", balance["available"])

	acc = h.call(t, MethodRelease, map[string]any{"accountId": id, "holdId": hold["id"]})
	assert.Equal(t, "100.5", acc["availableBalance"])

	alias := h.call(t, MethodAddAlias, map[string]any{"accountId": id, "type": "iban", "value": "DE89370400440532013000"})
	assert.Equal(t, "DE89370400440532013000", alias["value"])

	acc = h.call(t, MethodFreezeAccount, map[string]any{"accountId": id})
	assert.Equal(t, string(domain.AccountStatusFrozen), acc["status"])
	acc = h.call(t, MethodUnfreezeAccount, map[string]any{"accountId": id})
	assert.Equal(t, string(domain.AccountStatusActive), acc["status"])

	rebuilt := h.call(t, MethodRebuildReadModel, map[string]any{})
	assert.Equal(t, float64(1), rebuilt["rebuilt"])
}

func TestServer_TransactionFlow(t *testing.T) {
	h := setup(t)
	src := h.open(t, "USD")
	dst := h.open(t, "USD")
	h.call(t, MethodCredit, map[string]any{"accountId": src, "amount": "50"})

	tx := h.call(t, MethodCreateTransaction, map[string]any{
		"type": "payment",
		"entries": []any{
			map[string]any{"accountId": src, "entryType": "DEBIT", "amount": "20", "currency": "USD"},
			map[string]any{"accountId": dst, "entryType": "credit", "amount": 20, "currency": "USD"},
		},
	})
	assert.Equal(t, string(domain.TransactionStatusPending), tx["status"])
	entries := tx["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, float64(1), entries[0].(map[string]any)["sequence"])
	for _, e := range entries {
		assert.NotContains(t, e.(map[string]any), "balanceAfter")
	}

	committed := h.call(t, MethodCommitTransaction, map[string]any{"transactionId": tx["id"]})
	assert.Equal(t, string(domain.TransactionStatusCommitted), committed["status"])

	reversed := h.call(t, MethodReverseTransaction, map[string]any{"transactionId": tx["id"]})
	assert.Equal(t, string(domain.TransactionStatusReversed), reversed["status"])

	transfer := h.call(t, MethodTransfer, map[string]any{
		"sourceAccountId": src,
		"targetAccountId": dst,
		"amount":          "10",
		"currency":        "USD",
	})
	assert.Equal(t, string(domain.TransactionStatusCommitted), transfer["status"])
	transferEntries := transfer["entries"].([]any)
	require.Len(t, transferEntries, 2)
	assert.NotEmpty(t, transferEntries[0].(map[string]any)["holdId"])
	assert.NotContains(t, transferEntries[1].(map[string]any), "holdId")

	outbox := h.call(t, MethodListOutbox, map[string]any{"status": "pending"})
	assert.Len(t, outbox["messages"].([]any), 3)

	got := h.call(t, MethodGetTransaction, map[string]any{"transactionId": transfer["id"]})
	assert.Equal(t, transfer["id"], got["id"])
}

func TestServer_ErrorCodes(t *testing.T) {
	h := setup(t)
	id := h.open(t, "USD")
	ctx := context.Background()

	cases := []struct {
		name   string
		method string
		req    map[string]any
		code   codes.Code
	}{
		{"missing account", MethodGetAccount, map[string]any{"accountId": uuid.NewString()}, codes.NotFound},
		{"bad uuid", MethodGetAccount, map[string]any{"accountId": "nope"}, codes.InvalidArgument},
		{"bad amount", MethodCredit, map[string]any{"accountId": id, "amount": "ten"}, codes.InvalidArgument},
		{"non positive amount", MethodCredit, map[string]any{"accountId": id, "amount": "0"}, codes.InvalidArgument},
		{"insufficient funds", MethodDebit, map[string]any{"accountId": id, "amount": "1"}, codes.FailedPrecondition},
		{"bad currency", MethodOpenAccount, map[string]any{"customerId": uuid.NewString(), "currency": "dollars"}, codes.InvalidArgument},
		{"commit unknown", MethodCommitTransaction, map[string]any{"transactionId": uuid.NewString()}, codes.NotFound},
		{"bad outbox status", MethodListOutbox, map[string]any{"status": "weird"}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.client.Call(ctx, tc.method, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, status.Code(err), err.Error())
		})
	}
}

func TestServer_Health(t *testing.T) {
	h := setup(t)
	resp, err := healthpb.NewHealthClient(h.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestToStatus(t *testing.T) {
	assert.NoError(t, toStatus(nil))
	assert.Equal(t, codes.AlreadyExists, status.Code(toStatus(domain.ErrDuplicateAlias)))
	assert.Equal(t, codes.Aborted, status.Code(toStatus(domain.ErrConcurrentUpdate)))
	assert.Equal(t, codes.FailedPrecondition, status.Code(toStatus(domain.ErrAMLBlocked)))
	assert.Equal(t, codes.Canceled, status.Code(toStatus(context.Canceled)))
	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("disk on fire"))))
}
