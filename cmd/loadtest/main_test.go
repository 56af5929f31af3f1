package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	omsv1 "github.com/vladislavdragonenkov/storefront-oms/proto/oms/v1"
)

// fakeOrderServiceClient хранит заказы в памяти и считает цену позиции как 250 * qty.
type fakeOrderServiceClient struct {
	omsv1.OrderServiceClient

	mu         sync.Mutex
	orders     map[string]*omsv1.Order
	keys       map[string]bool
	tokens     map[string]bool
	skewTotal  int64
	addItemErr error
}

func newFakeClient() *fakeOrderServiceClient {
	return &fakeOrderServiceClient{
		orders: make(map[string]*omsv1.Order),
		keys:   make(map[string]bool),
		tokens: make(map[string]bool),
	}
}

func (f *fakeOrderServiceClient) observe(ctx context.Context) {
	md, _ := metadata.FromOutgoingContext(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, token := range md.Get("authorization") {
		f.tokens[token] = true
	}
	for _, key := range md.Get(idempotencyHeader) {
		f.keys[key] = true
	}
}

func (f *fakeOrderServiceClient) CreateOrder(ctx context.Context, req *omsv1.CreateOrderRequest, _ ...grpc.CallOption) (*omsv1.CreateOrderResponse, error) {
	f.observe(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()

	order := &omsv1.Order{
		Id:          fmt.Sprintf("order-%d", len(f.orders)+1),
		Description: req.Description,
		PriceTotal:  &omsv1.Money{},
	}
	f.orders[order.Id] = order
	return &omsv1.CreateOrderResponse{Order: order}, nil
}

func (f *fakeOrderServiceClient) AddItem(ctx context.Context, req *omsv1.AddItemRequest, _ ...grpc.CallOption) (*omsv1.AddItemResponse, error) {
	f.observe(ctx)
	if f.addItemErr != nil {
		return nil, f.addItemErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[req.OrderId]
	if !ok {
		return nil, status.Error(codes.NotFound, "order not found")
	}
	price := 250 * int64(req.Quantity)
	item := &omsv1.OrderItem{
		Id:         fmt.Sprintf("%s-item-%d", order.Id, len(order.Items)+1),
		OrderId:    order.Id,
		ProductId:  req.ProductId,
		Quantity:   req.Quantity,
		PriceTotal: &omsv1.Money{AmountMinor: price},
	}
	order.Items = append(order.Items, item)
	order.PriceTotal.AmountMinor += price
	return &omsv1.AddItemResponse{Item: item}, nil
}

func (f *fakeOrderServiceClient) GetOrder(ctx context.Context, req *omsv1.GetOrderRequest, _ ...grpc.CallOption) (*omsv1.GetOrderResponse, error) {
	f.observe(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[req.OrderId]
	if !ok {
		return nil, status.Error(codes.NotFound, "order not found")
	}
	copied := *order
	copied.PriceTotal = &omsv1.Money{AmountMinor: order.PriceTotal.AmountMinor + f.skewTotal}
	return &omsv1.GetOrderResponse{Order: &copied}, nil
}

func newTestRunner(client omsv1.OrderServiceClient, orders, items int) *runner {
	return &runner{
		cfg: config{
			orders:        orders,
			itemsPerOrder: items,
			concurrency:   8,
			timeout:       time.Second,
			productID:     "product-1",
		},
		clients: []omsv1.OrderServiceClient{client},
		token:   "test-token",
		runID:   "run",
		col:     newCollector(),
	}
}

func TestParseConfig(t *testing.T) {
	noEnv := func(string) string { return "" }

	cfg, err := parseConfig([]string{"-product-id=p1", "-jwt-secret=s", "-orders=3", "-items=4", "-timeout=2s"}, noEnv)
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.orders != 3 || cfg.itemsPerOrder != 4 || cfg.timeout != 2*time.Second || cfg.productID != "p1" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	cfg, err = parseConfig([]string{"-product-id=p1"}, func(key string) string {
		if key == "OMS_LOADTEST_TOKEN" {
			return "env-token"
		}
		return ""
	})
	if err != nil {
		t.Fatalf("parseConfig with env token failed: %v", err)
	}
	if cfg.token != "env-token" {
		t.Fatalf("expected token from env, got %q", cfg.token)
	}

	invalid := map[string][]string{
		"no product":    {"-token=t"},
		"no credential": {"-product-id=p1"},
		"zero orders":   {"-product-id=p1", "-token=t", "-orders=0"},
		"zero items":    {"-product-id=p1", "-token=t", "-items=0"},
		"zero workers":  {"-product-id=p1", "-token=t", "-concurrency=0"},
		"zero conns":    {"-product-id=p1", "-token=t", "-connections=0"},
		"zero timeout":  {"-product-id=p1", "-token=t", "-timeout=0s"},
		"no client id":  {"-product-id=p1", "-jwt-secret=s", "-client-id="},
	}
	for name, args := range invalid {
		t.Run(name, func(t *testing.T) {
			if _, err := parseConfig(args, noEnv); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	token, err := bearerToken(config{token: "given"})
	if err != nil || token != "given" {
		t.Fatalf("expected given token, got %q, %v", token, err)
	}

	minted, err := bearerToken(config{jwtSecret: "secret", clientID: "loadtest"})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	if strings.Count(minted, ".") != 2 {
		t.Fatalf("expected JWT, got %q", minted)
	}
}

func TestCheckConsistency(t *testing.T) {
	item := func(amount int64) *omsv1.OrderItem {
		return &omsv1.OrderItem{PriceTotal: &omsv1.Money{AmountMinor: amount}}
	}

	ok := &omsv1.Order{
		Items:      []*omsv1.OrderItem{item(100), item(200)},
		Discount:   &omsv1.Money{AmountMinor: 50},
		PriceTotal: &omsv1.Money{AmountMinor: 250},
	}
	if problem := checkConsistency(ok, 2); problem != "" {
		t.Fatalf("unexpected problem: %s", problem)
	}

	testCases := map[string]struct {
		order *omsv1.Order
		items int
	}{
		"missing order": {order: nil, items: 1},
		"lost item":     {order: ok, items: 3},
		"wrong total": {order: &omsv1.Order{
			Items:      []*omsv1.OrderItem{item(100)},
			PriceTotal: &omsv1.Money{AmountMinor: 90},
		}, items: 1},
		"no item price": {order: &omsv1.Order{Items: []*omsv1.OrderItem{{}}}, items: 1},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if problem := checkConsistency(tc.order, tc.items); problem == "" {
				t.Fatal("expected consistency problem")
			}
		})
	}
}

func TestRunner_ConsistentOrders(t *testing.T) {
	client := newFakeClient()
	r := newTestRunner(client, 3, 5)

	r.run(context.Background())

	result := r.col.buildReport(time.Now(), time.Second)
	if result.TotalScenarios != 3 || result.FailedScenarios != 0 || result.Inconsistent != 0 {
		t.Fatalf("unexpected report: %+v", result)
	}
	if got := result.Methods["AddItem"].Calls; got != 15 {
		t.Fatalf("expected 15 AddItem calls, got %d", got)
	}
	if !client.tokens["Bearer test-token"] {
		t.Fatalf("expected bearer token in metadata, got %v", client.tokens)
	}
	// 3 CreateOrder + 15 AddItem; GetOrder идёт без ключа.
	if len(client.keys) != 18 {
		t.Fatalf("expected 18 unique idempotency keys, got %d", len(client.keys))
	}
	for _, order := range client.orders {
		if len(order.Items) != 5 || order.PriceTotal.AmountMinor != 1250 {
			t.Fatalf("unexpected order state: %+v", order)
		}
	}
}

func TestRunner_DetectsInconsistentTotal(t *testing.T) {
	client := newFakeClient()
	client.skewTotal = 1
	r := newTestRunner(client, 2, 2)

	r.run(context.Background())

	result := r.col.buildReport(time.Now(), time.Second)
	if result.Inconsistent != 2 || len(result.InconsistentOrders) != 2 {
		t.Fatalf("expected 2 inconsistent orders, got %+v", result)
	}
	if result.Methods["scenario"].Codes[codes.DataLoss.String()] != 2 {
		t.Fatalf("expected DataLoss scenarios, got %+v", result.Methods["scenario"].Codes)
	}
}

func TestRunner_AddItemFailureFailsScenario(t *testing.T) {
	client := newFakeClient()
	client.addItemErr = status.Error(codes.FailedPrecondition, "order completed")
	r := newTestRunner(client, 2, 3)

	r.run(context.Background())

	result := r.col.buildReport(time.Now(), time.Second)
	if result.FailedScenarios != 2 {
		t.Fatalf("expected both scenarios to fail, got %+v", result)
	}
	if _, ok := result.Methods["GetOrder"]; ok {
		t.Fatal("GetOrder should not run after failed AddItem")
	}
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record("scenario", 10*time.Millisecond, codes.OK)
	c.record("scenario", 20*time.Millisecond, codes.Internal)
	c.record("CreateOrder", 15*time.Millisecond, codes.OK)
	c.markInconsistent("order-1", "total mismatch")

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	scenario := r.Methods["scenario"]
	if scenario.Codes[codes.OK.String()] != 1 || scenario.Codes[codes.Internal.String()] != 1 {
		t.Fatalf("unexpected codes: %+v", scenario.Codes)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	if r.Inconsistent != 1 || r.InconsistentOrders["order-1"] != "total mismatch" {
		t.Fatalf("unexpected inconsistency report: %+v", r)
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.P50 != 25 || summary.Max != 40 || summary.Min != 10 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if p := percentile([]float64{7}, 99); p != 7 {
		t.Fatalf("unexpected single-value percentile: %f", p)
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2, Inconsistent: 1}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.Inconsistent != 1 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport("../outside.json", sample); err == nil {
		t.Fatal("expected error for path outside current directory")
	}
}

func TestPrintReport(t *testing.T) {
	out := captureStdout(t, func() {
		printReport(report{
			TotalScenarios:     1,
			FailedScenarios:    1,
			Methods:            map[string]methodReport{"AddItem": {Calls: 3}},
			Inconsistent:       1,
			InconsistentOrders: map[string]string{"order-1": "items: want 3, got 2"},
		}, config{orders: 1, itemsPerOrder: 3, concurrency: 2})
	})

	for _, want := range []string{"orders=1 items=3", "AddItem: calls=3", "inconsistent order order-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = oldStdout

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read captured output: %v", err)
	}
	_ = r.Close()

	return string(data)
}
