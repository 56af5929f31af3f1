package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront-oms/internal/auth"
	omsv1 "github.com/vladislavdragonenkov/storefront-oms/proto/oms/v1"
)

const (
	idempotencyHeader = "idempotency-key"
	defaultQty        = int32(1)
)

type config struct {
	addr          string
	orders        int
	itemsPerOrder int
	concurrency   int
	connections   int
	timeout       time.Duration
	productID     string
	clientID      string
	token         string
	jwtSecret     string
	outputPath    string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	// Inconsistent - заказы, у которых итог не сошёлся с позициями.
	Inconsistent       int64             `json:"inconsistent"`
	InconsistentOrders map[string]string `json:"inconsistent_orders,omitempty"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu           sync.Mutex
	methods      map[string]*methodStats
	inconsistent map[string]string
}

func newCollector() *collector {
	return &collector{
		methods:      make(map[string]*methodStats),
		inconsistent: make(map[string]string),
	}
}

func (c *collector) markInconsistent(orderID, problem string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inconsistent[orderID] = problem
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if code == codes.OK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}

	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}

	result.Inconsistent = int64(len(c.inconsistent))
	if len(c.inconsistent) > 0 {
		result.InconsistentOrders = make(map[string]string, len(c.inconsistent))
		for orderID, problem := range c.inconsistent {
			result.InconsistentOrders[orderID] = problem
		}
	}

	return result
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var cfg config

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.orders, "orders", 50, "number of orders to create")
	fs.IntVar(&cfg.itemsPerOrder, "items", 20, "items added concurrently to each order")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "max in-flight AddItem calls")
	fs.IntVar(&cfg.connections, "connections", 8, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&cfg.productID, "product-id", "", "product to add (see cmd/seed)")
	fs.StringVar(&cfg.clientID, "client-id", "loadtest", "client id used for minted tokens")
	fs.StringVar(&cfg.token, "token", "", "bearer token (fallback: OMS_LOADTEST_TOKEN)")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "mint a token with this secret when -token is empty (fallback: OMS_JWT_SECRET)")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if strings.TrimSpace(cfg.token) == "" {
		cfg.token = strings.TrimSpace(getenv("OMS_LOADTEST_TOKEN"))
	}
	if strings.TrimSpace(cfg.jwtSecret) == "" {
		cfg.jwtSecret = strings.TrimSpace(getenv("OMS_JWT_SECRET"))
	}

	if cfg.orders <= 0 {
		return cfg, errors.New("orders must be > 0")
	}
	if cfg.itemsPerOrder <= 0 {
		return cfg, errors.New("items must be > 0")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if strings.TrimSpace(cfg.productID) == "" {
		return cfg, errors.New("product-id is required")
	}
	if cfg.token == "" && cfg.jwtSecret == "" {
		return cfg, errors.New("token or jwt-secret is required")
	}
	if cfg.token == "" && strings.TrimSpace(cfg.clientID) == "" {
		return cfg, errors.New("client-id is required to mint a token")
	}

	return cfg, nil
}

// bearerToken возвращает заданный токен или выпускает новый локально.
func bearerToken(cfg config) (string, error) {
	if cfg.token != "" {
		return cfg.token, nil
	}
	manager, err := auth.NewManager(auth.Config{Secret: cfg.jwtSecret}, nil)
	if err != nil {
		return "", err
	}
	token, _, err := manager.Issue(cfg.clientID, "")
	return token, err
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	token, err := bearerToken(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to obtain token: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]omsv1.OrderServiceClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, omsv1.NewOrderServiceClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	startedAt := time.Now()
	col := newCollector()
	runner := &runner{
		cfg:     cfg,
		clients: clients,
		token:   token,
		runID:   fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:     col,
	}
	runner.run(context.Background())

	result := col.buildReport(startedAt, time.Since(startedAt))
	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || result.Inconsistent > 0 {
		os.Exit(1)
	}
}

type runner struct {
	cfg     config
	clients []omsv1.OrderServiceClient
	token   string
	runID   string
	col     *collector
}

// run создаёт заказы и наполняет их параллельно. Все AddItem всех заказов
// делят общий лимит concurrency, поэтому вызовы к одному заказу
// действительно конкурируют за его транзакцию.
func (r *runner) run(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(r.cfg.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.orders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.scenario(ctx, &g, i)
		}()
	}
	wg.Wait()
	_ = g.Wait()
}

func (r *runner) client(i int) omsv1.OrderServiceClient {
	return r.clients[i%len(r.clients)]
}

func (r *runner) scenario(ctx context.Context, g *errgroup.Group, index int) {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		r.col.record("scenario", time.Since(scenarioStart), scenarioCode)
	}()

	client := r.client(index)
	created, err := r.call(ctx, "CreateOrder", fmt.Sprintf("lt-create-%s-%d", r.runID, index), func(ctx context.Context) (any, error) {
		return client.CreateOrder(ctx, &omsv1.CreateOrderRequest{
			Description: fmt.Sprintf("loadtest %s #%d", r.runID, index),
			Status:      omsv1.OrderStatusOpen,
		})
	})
	if err != nil {
		scenarioCode = status.Code(err)
		return
	}
	orderID := created.(*omsv1.CreateOrderResponse).GetOrder().GetId()

	var (
		mu       sync.Mutex
		firstErr error
		items    sync.WaitGroup
	)
	for item := 0; item < r.cfg.itemsPerOrder; item++ {
		items.Add(1)
		g.Go(func() error {
			defer items.Done()
			key := fmt.Sprintf("lt-item-%s-%d-%d", r.runID, index, item)
			_, err := r.call(ctx, "AddItem", key, func(ctx context.Context) (any, error) {
				return r.client(index+item).AddItem(ctx, &omsv1.AddItemRequest{
					OrderId:   orderID,
					ProductId: r.cfg.productID,
					Quantity:  defaultQty,
				})
			})
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			// Ошибка учитывается в сценарии, остальные заказы продолжают работу.
			return nil
		})
	}
	items.Wait()
	if firstErr != nil {
		scenarioCode = status.Code(firstErr)
		return
	}

	got, err := r.call(ctx, "GetOrder", "", func(ctx context.Context) (any, error) {
		return client.GetOrder(ctx, &omsv1.GetOrderRequest{OrderId: orderID})
	})
	if err != nil {
		scenarioCode = status.Code(err)
		return
	}
	if problem := checkConsistency(got.(*omsv1.GetOrderResponse).GetOrder(), r.cfg.itemsPerOrder); problem != "" {
		r.col.markInconsistent(orderID, problem)
		scenarioCode = codes.DataLoss
	}
}

func (r *runner) call(ctx context.Context, method, idempotencyKey string, fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+r.token)
	if idempotencyKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, idempotencyKey)
	}

	resp, err := fn(ctx)
	r.col.record(method, time.Since(start), status.Code(err))
	return resp, err
}

// checkConsistency сверяет итог заказа с суммой позиций после конкурентной записи.
func checkConsistency(order *omsv1.Order, wantItems int) string {
	if order == nil {
		return "order is missing in response"
	}
	items := order.GetItems()
	if len(items) != wantItems {
		return fmt.Sprintf("items: want %d, got %d", wantItems, len(items))
	}

	var sum int64
	for _, item := range items {
		if item == nil || item.PriceTotal == nil {
			return "item without price total"
		}
		sum += item.PriceTotal.AmountMinor
	}

	var discount int64
	if order.Discount != nil {
		discount = order.Discount.AmountMinor
	}
	if total := order.GetPriceTotal().GetAmountMinor(); total != sum-discount {
		return fmt.Sprintf("total: want %d, got %d", sum-discount, total)
	}
	return ""
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("orders=%d items=%d concurrency=%d total=%d success=%d failed=%d error_rate=%.4f inconsistent=%d\n",
		cfg.orders,
		cfg.itemsPerOrder,
		cfg.concurrency,
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
		result.Inconsistent,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}

	orderIDs := make([]string, 0, len(result.InconsistentOrders))
	for orderID := range result.InconsistentOrders {
		orderIDs = append(orderIDs, orderID)
	}
	sort.Strings(orderIDs)
	for _, orderID := range orderIDs {
		fmt.Printf("inconsistent order %s: %s\n", orderID, result.InconsistentOrders[orderID])
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
