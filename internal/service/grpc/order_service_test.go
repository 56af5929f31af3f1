package grpcsvc_test

import (
	"context"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/storefront-oms/internal/auth"
	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/aggregate"
	grpcsvc "github.com/vladislavdragonenkov/storefront-oms/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront-oms/internal/storage/memory"
	omsv1 "github.com/vladislavdragonenkov/storefront-oms/proto/oms/v1"
)

const bufSize = 1024 * 1024

type testEnv struct {
	client   omsv1.OrderServiceClient
	tokens   *auth.Manager
	productA domain.Product
	productB domain.Product
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	return logger.WithField("component", "test")
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := loggerForTests()
	products := memory.NewProductRepository()
	a, err := products.Create(context.Background(), domain.Product{Name: "A", PriceMinor: 1000})
	require.NoError(t, err)
	b, err := products.Create(context.Background(), domain.Product{Name: "B", PriceMinor: 500})
	require.NoError(t, err)

	engine := aggregate.NewEngine(memory.NewOrderStore(products, memory.NewOutboxRepository()), aggregate.WithLogger(logger))
	svc := orders.NewService(engine, orders.WithTimeline(memory.NewTimelineRepository()), orders.WithLogger(logger))

	tokens, err := auth.NewManager(auth.Config{Secret: "grpc-test"}, memory.NewRevocationStore())
	require.NoError(t, err)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcsvc.AuthUnaryInterceptor(tokens, logger)))
	omsv1.RegisterOrderServiceServer(server, grpcsvc.NewOrderService(svc, memory.NewIdempotencyRepository(), logger))

	go func() {
		if err := server.Serve(listener); err != nil {
			logger.WithError(err).Error("grpc serve failed")
		}
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	return &testEnv{
		client:   omsv1.NewOrderServiceClient(conn),
		tokens:   tokens,
		productA: a,
		productB: b,
	}
}

func (e *testEnv) ctx(t *testing.T, clientID, role string, kv ...string) context.Context {
	t.Helper()
	token, _, err := e.tokens.Issue(clientID, role)
	require.NoError(t, err)
	pairs := append([]string{"authorization", "Bearer " + token}, kv...)
	return metadata.AppendToOutgoingContext(context.Background(), pairs...)
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, status.Code(err), err.Error())
}

func TestOrderService_Lifecycle(t *testing.T) {
	env := newTestServer(t)
	ctx := env.ctx(t, "client-1", "")

	created, err := env.client.CreateOrder(ctx, &omsv1.CreateOrderRequest{Description: "grpc"})
	require.NoError(t, err)
	orderID := created.Order.Id
	require.Equal(t, "client-1", created.Order.ClientId)
	require.Equal(t, omsv1.OrderStatusOpen, created.Order.Status)

	added, err := env.client.AddItem(ctx, &omsv1.AddItemRequest{OrderId: orderID, ProductId: env.productA.ID, Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, "20.00", added.Item.PriceTotal.Amount)

	second, err := env.client.AddItem(ctx, &omsv1.AddItemRequest{OrderId: orderID, ProductId: env.productB.ID, Quantity: 1})
	require.NoError(t, err)

	got, err := env.client.GetOrder(ctx, &omsv1.GetOrderRequest{OrderId: orderID})
	require.NoError(t, err)
	require.Equal(t, int64(2500), got.Order.GetPriceTotal().GetAmountMinor())
	require.Len(t, got.Order.Items, 2)

	removed, err := env.client.RemoveItem(ctx, &omsv1.RemoveItemRequest{OrderId: orderID, ItemId: second.Item.Id})
	require.NoError(t, err)
	require.Equal(t, "20.00", removed.Order.PriceTotal.Amount)

	discounted, err := env.client.ApplyDiscount(ctx, &omsv1.ApplyDiscountRequest{OrderId: orderID, Amount: "5"})
	require.NoError(t, err)
	require.Equal(t, "15.00", discounted.Order.PriceTotal.Amount)
	require.Equal(t, "5.00", discounted.Order.Discount.Amount)

	_, err = env.client.CompleteOrder(ctx, &omsv1.CompleteOrderRequest{OrderId: orderID})
	requireCode(t, err, codes.FailedPrecondition)

	finished, err := env.client.CompleteItem(ctx, &omsv1.CompleteItemRequest{ItemId: added.Item.Id})
	require.NoError(t, err)
	require.True(t, finished.Item.Finished)

	completed, err := env.client.CompleteOrder(ctx, &omsv1.CompleteOrderRequest{OrderId: orderID})
	require.NoError(t, err)
	require.Equal(t, omsv1.OrderStatusCompleted, completed.Order.Status)
	require.NotZero(t, completed.Order.FinishedUnix)

	_, err = env.client.UpdateDescription(ctx, &omsv1.UpdateDescriptionRequest{OrderId: orderID, Description: "late"})
	requireCode(t, err, codes.FailedPrecondition)

	timeline, err := env.client.GetTimeline(ctx, &omsv1.GetTimelineRequest{OrderId: orderID})
	require.NoError(t, err)
	require.NotEmpty(t, timeline.Events)
	require.Equal(t, "client-1", timeline.Events[0].Actor)

	_, err = env.client.DeleteOrder(ctx, &omsv1.DeleteOrderRequest{OrderId: orderID})
	require.NoError(t, err)

	_, err = env.client.GetOrder(ctx, &omsv1.GetOrderRequest{OrderId: orderID})
	requireCode(t, err, codes.NotFound)
}

func TestOrderService_RequiresToken(t *testing.T) {
	env := newTestServer(t)

	_, err := env.client.ListOrders(context.Background(), &omsv1.ListOrdersRequest{})
	requireCode(t, err, codes.Unauthenticated)

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer nope")
	_, err = env.client.ListOrders(bad, &omsv1.ListOrdersRequest{})
	requireCode(t, err, codes.Unauthenticated)
}

func TestOrderService_ErrorCodes(t *testing.T) {
	env := newTestServer(t)
	ctx := env.ctx(t, "client-1", "")

	created, err := env.client.CreateOrder(ctx, &omsv1.CreateOrderRequest{})
	require.NoError(t, err)

	_, err = env.client.CreateOrder(ctx, &omsv1.CreateOrderRequest{Status: omsv1.OrderStatusCompleted})
	requireCode(t, err, codes.InvalidArgument)

	_, err = env.client.AddItem(ctx, &omsv1.AddItemRequest{OrderId: created.Order.Id, ProductId: env.productA.ID})
	requireCode(t, err, codes.InvalidArgument)

	_, err = env.client.AddItem(ctx, &omsv1.AddItemRequest{OrderId: created.Order.Id, ProductId: "missing", Quantity: 1})
	requireCode(t, err, codes.NotFound)

	_, err = env.client.ApplyDiscount(ctx, &omsv1.ApplyDiscountRequest{OrderId: created.Order.Id, Amount: "0.001"})
	requireCode(t, err, codes.InvalidArgument)

	_, err = env.client.ListOrders(ctx, &omsv1.ListOrdersRequest{ClientId: "someone-else"})
	requireCode(t, err, codes.PermissionDenied)

	admin := env.ctx(t, "root", domain.RoleAdmin)
	listed, err := env.client.ListOrders(admin, &omsv1.ListOrdersRequest{ClientId: "client-1"})
	require.NoError(t, err)
	require.Len(t, listed.Orders, 1)
}

func TestOrderService_IdempotentAddItem(t *testing.T) {
	env := newTestServer(t)
	plain := env.ctx(t, "client-1", "")

	created, err := env.client.CreateOrder(plain, &omsv1.CreateOrderRequest{})
	require.NoError(t, err)

	req := &omsv1.AddItemRequest{OrderId: created.Order.Id, ProductId: env.productA.ID, Quantity: 1}
	withKey := env.ctx(t, "client-1", "", "idempotency-key", "add-1")

	first, err := env.client.AddItem(withKey, req)
	require.NoError(t, err)
	replayed, err := env.client.AddItem(withKey, req)
	require.NoError(t, err)
	require.Equal(t, first.Item.Id, replayed.Item.Id)

	got, err := env.client.GetOrder(plain, &omsv1.GetOrderRequest{OrderId: created.Order.Id})
	require.NoError(t, err)
	require.Len(t, got.Order.Items, 1)
	require.Equal(t, int64(1000), got.Order.PriceTotal.AmountMinor)

	_, err = env.client.AddItem(withKey, &omsv1.AddItemRequest{OrderId: created.Order.Id, ProductId: env.productB.ID, Quantity: 1})
	requireCode(t, err, codes.AlreadyExists)
}

func TestOrderService_IdempotentFailureIsReplayed(t *testing.T) {
	env := newTestServer(t)
	withKey := env.ctx(t, "client-1", "", "idempotency-key", "complete-1")

	_, err := env.client.CompleteOrder(withKey, &omsv1.CompleteOrderRequest{OrderId: "missing"})
	requireCode(t, err, codes.NotFound)

	_, err = env.client.CompleteOrder(withKey, &omsv1.CompleteOrderRequest{OrderId: "missing"})
	requireCode(t, err, codes.NotFound)
}
