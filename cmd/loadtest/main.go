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
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/client"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

const (
	outcomeOK        = "OK"
	outcomeTimeout   = "TIMEOUT"
	outcomeTransport = "TRANSPORT"
	outcomeMismatch  = "MISMATCH"

	scenarioMethod = "scenario"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateLookup loadMode = "create-lookup"
)

// storefrontAPI — часть HTTP-клиента, которую использует генератор нагрузки.
type storefrontAPI interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	CreateOrder(ctx context.Context, submission domain.OrderSubmission, idempotencyKey string) (httpapi.CreateOrderResponse, error)
	GetOrder(ctx context.Context, number, token string) (domain.Order, error)
}

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   int64
	quantity    int
	emailDomain string
	outputPath  string
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
	UniqueOrders      int64                   `json:"unique_orders"`
	DuplicateOrders   int64                   `json:"duplicate_orders"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector копит латентности по методам и номера созданных заказов.
// Повтор номера между разными сценариями считается дубликатом.
type collector struct {
	mu         sync.Mutex
	methods    map[string]*methodStats
	orders     map[string]int
	duplicates int64
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
		orders:  make(map[string]int),
	}
}

func (c *collector) record(method string, latency time.Duration, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if outcome == outcomeOK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[outcome]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

// trackOrder запоминает номер заказа сценария index и возвращает false,
// если этот номер уже выдан другому сценарию.
func (c *collector) trackOrder(number string, index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if owner, ok := c.orders[number]; ok && owner != index {
		c.duplicates++
		return false
	}
	c.orders[number] = index
	return true
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}
	return stats.report(), true
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
		UniqueOrders:    int64(len(c.orders)),
		DuplicateOrders: c.duplicates,
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if stats := c.methods[scenarioMethod]; stats != nil {
		result.TotalScenarios = stats.calls
		result.SuccessScenarios = stats.success
		result.FailedScenarios = stats.failed
		result.ErrorRate = ratio(stats.failed, stats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(stats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}
	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "storefront API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-lookup")
	fs.Int64Var(&cfg.productID, "product", 1, "catalog product id placed into every order")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity of the product per order")
	fs.StringVar(&cfg.emailDomain, "email-domain", "load.example.com", "domain of generated customer emails")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case strings.TrimSpace(cfg.addr) == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.productID <= 0:
		return cfg, errors.New("product must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case strings.TrimSpace(cfg.emailDomain) == "":
		return cfg, errors.New("email-domain is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateLookup:
		return modeCreateLookup, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		stop()
		_, _ = fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

// execute разбирает флаги, прогоняет нагрузку и пишет отчёт.
// Ошибка возвращается и тогда, когда прогон прошёл, но есть упавшие сценарии или дубликаты номеров.
func execute(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	api, err := client.New(cfg.addr, client.WithLogger(log.WithField("component", "loadtest")))
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}

	result, err := runLoad(ctx, api, cfg)
	if err != nil {
		return err
	}

	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	if result.FailedScenarios > 0 || result.DuplicateOrders > 0 {
		return fmt.Errorf("load test failed: failed=%d duplicates=%d", result.FailedScenarios, result.DuplicateOrders)
	}
	return nil
}

// runLoad загружает товар из каталога один раз и раздаёт сценарии воркерам.
func runLoad(ctx context.Context, api storefrontAPI, cfg config) (report, error) {
	productCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	product, err := api.GetProduct(productCtx, cfg.productID)
	cancel()
	if err != nil {
		return report{}, fmt.Errorf("load product %d: %w", cfg.productID, err)
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(ctx, api, cfg, product, id, runID, col)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(
	ctx context.Context,
	api storefrontAPI,
	cfg config,
	product domain.Product,
	index int,
	runID string,
	col *collector,
) error {
	scenarioStart := time.Now()
	scenarioOutcome := outcomeOK
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), scenarioOutcome)
	}()

	submission, err := buildSubmission(cfg, product, index, runID)
	if err != nil {
		scenarioOutcome = outcomeMismatch
		return err
	}

	createKey := fmt.Sprintf("lt-create-%s-%d", runID, index)
	created, err := callCreateOrder(ctx, api, cfg.timeout, submission, createKey, col)
	if err != nil {
		scenarioOutcome = outcomeOf(err)
		return err
	}
	if created.OrderNumber == "" {
		scenarioOutcome = outcomeMismatch
		return errors.New("create response returned empty order number")
	}
	if !col.trackOrder(created.OrderNumber, index) {
		scenarioOutcome = outcomeMismatch
		return fmt.Errorf("duplicate order number %s", created.OrderNumber)
	}

	if cfg.mode == modeCreate {
		return nil
	}

	order, err := callGetOrder(ctx, api, cfg.timeout, created.OrderNumber, col)
	if err != nil {
		scenarioOutcome = outcomeOf(err)
		return err
	}
	if order.ID != created.OrderID || order.TotalItems != cfg.quantity {
		scenarioOutcome = outcomeMismatch
		return fmt.Errorf("order %s does not match submission", created.OrderNumber)
	}
	return nil
}

func buildSubmission(cfg config, product domain.Product, index int, runID string) (domain.OrderSubmission, error) {
	line := product.LineItem(cfg.quantity)
	customer := fmt.Sprintf("lt-%s-%d", runID, index)
	return domain.NewOrderSubmission(domain.Contact{
		Name:    "Load " + customer,
		Email:   customer + "@" + strings.TrimSpace(cfg.emailDomain),
		Phone:   "+10000000000",
		Address: "1 Load Street",
		City:    "Benchmark",
		ZipCode: "00000",
	}, []domain.LineItem{line}, line.Subtotal().StringFixed(2), cfg.quantity)
}

func callCreateOrder(
	ctx context.Context,
	api storefrontAPI,
	timeout time.Duration,
	submission domain.OrderSubmission,
	key string,
	col *collector,
) (httpapi.CreateOrderResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := api.CreateOrder(ctx, submission, key)
	col.record("CreateOrder", time.Since(start), outcomeOf(err))
	return resp, err
}

func callGetOrder(
	ctx context.Context,
	api storefrontAPI,
	timeout time.Duration,
	number string,
	col *collector,
) (domain.Order, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	order, err := api.GetOrder(ctx, number, "")
	col.record("GetOrder", time.Since(start), outcomeOf(err))
	return order, err
}

// outcomeOf сводит ошибку вызова к строке для отчёта: код ошибки API,
// HTTP-статус без кода, таймаут или ошибку транспорта.
func outcomeOf(err error) string {
	if err == nil {
		return outcomeOK
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != "" {
			return apiErr.Code
		}
		return fmt.Sprintf("HTTP_%d", apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return outcomeTimeout
	}
	return outcomeTransport
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
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

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "orders unique=%d duplicates=%d\n", result.UniqueOrders, result.DuplicateOrders)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == scenarioMethod {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
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

// percentile интерполирует между соседними рангами отсортированной выборки.
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
