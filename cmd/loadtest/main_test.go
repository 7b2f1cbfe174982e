package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/client"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

type fakeAPI struct {
	product  domain.Product
	createFn func(context.Context, domain.OrderSubmission, string) (httpapi.CreateOrderResponse, error)
	getFn    func(context.Context, string) (domain.Order, error)
}

func (f *fakeAPI) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	if f.product.ID != id {
		return domain.Product{}, &client.APIError{StatusCode: http.StatusNotFound, Code: domain.CodeProductNotFound}
	}
	return f.product, nil
}

func (f *fakeAPI) CreateOrder(ctx context.Context, sub domain.OrderSubmission, key string) (httpapi.CreateOrderResponse, error) {
	if f.createFn == nil {
		return httpapi.CreateOrderResponse{}, errors.New("unexpected CreateOrder call")
	}
	return f.createFn(ctx, sub, key)
}

func (f *fakeAPI) GetOrder(ctx context.Context, number, _ string) (domain.Order, error) {
	if f.getFn == nil {
		return domain.Order{}, errors.New("unexpected GetOrder call")
	}
	return f.getFn(ctx, number)
}

var _ storefrontAPI = (*client.Client)(nil)

func sampleProduct() domain.Product {
	return domain.Product{
		ID:           7,
		Name:         "LOAD KEYCAP",
		DisplayPrice: "$2.50",
		UnitPrice:    decimal.RequireFromString("2.50"),
	}
}

func baseConfig() config {
	return config{
		mode:        modeCreate,
		total:       1,
		concurrency: 1,
		timeout:     time.Second,
		productID:   7,
		quantity:    2,
		emailDomain: "load.example.com",
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "create", input: "create", want: modeCreate},
		{name: "create-lookup", input: " create-lookup ", want: modeCreateLookup},
		{name: "unsupported", input: "create-pay", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		cfg, err := parseConfig([]string{
			"-addr=http://127.0.0.1:8080",
			"-mode=create-lookup",
			"-total=12",
			"-concurrency=3",
			"-timeout=2s",
			"-product=3",
			"-quantity=4",
			"-output=/tmp/out.json",
		})
		require.NoError(t, err)

		assert.True(t, cfg.totalSet)
		assert.Zero(t, cfg.duration)
		assert.Equal(t, modeCreateLookup, cfg.mode)
		assert.Equal(t, 12, cfg.total)
		assert.Equal(t, 3, cfg.concurrency)
		assert.Equal(t, 2*time.Second, cfg.timeout)
		assert.Equal(t, int64(3), cfg.productID)
		assert.Equal(t, 4, cfg.quantity)
		assert.Equal(t, "/tmp/out.json", cfg.outputPath)
	})

	t.Run("duration mode", func(t *testing.T) {
		cfg, err := parseConfig([]string{"-duration=3s", "-concurrency=2"})
		require.NoError(t, err)

		assert.Equal(t, 3*time.Second, cfg.duration)
		assert.False(t, cfg.totalSet, "total was not provided")
		assert.Equal(t, "http://localhost:8080", cfg.addr)
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "invalid duration", args: []string{"-duration=bad"}, wantErr: "parse duration"},
			{name: "invalid timeout", args: []string{"-timeout=soon"}, wantErr: "parse timeout"},
			{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "empty total", args: []string{"-duration=0s", "-total=0"}, wantErr: "total must be > 0"},
			{name: "zero total with duration", args: []string{"-duration=1s", "-total=0"}, wantErr: "explicitly set"},
			{name: "concurrency", args: []string{"-concurrency=0"}, wantErr: "concurrency must be > 0"},
			{name: "product", args: []string{"-product=0"}, wantErr: "product must be > 0"},
			{name: "quantity", args: []string{"-quantity=-1"}, wantErr: "quantity must be > 0"},
			{name: "blank addr", args: []string{"-addr= "}, wantErr: "addr is required"},
			{name: "mode", args: []string{"-mode=refund"}, wantErr: "unsupported mode"},
			{name: "unknown flag", args: []string{"-connections=2"}, wantErr: "connections"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := parseConfig(tc.args)
				require.ErrorContains(t, err, tc.wantErr)
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		assert.True(t, slices.Equal(got, []int{0, 1, 2, 3, 4}), "unexpected jobs sequence: %v", got)
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(context.Background(), jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		assert.Positive(t, count)
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{duration: time.Second, total: 3, totalSet: true})

		count := 0
		for range jobs {
			count++
		}
		assert.Equal(t, 3, count)
	})

	t.Run("canceled context stops dispatch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		jobs := make(chan int)
		dispatchJobs(ctx, jobs, config{total: 1000})

		_, open := <-jobs
		assert.False(t, open)
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(scenarioMethod, 10*time.Millisecond, outcomeOK)
	c.record(scenarioMethod, 20*time.Millisecond, domain.CodeOrderCreationFailed)
	c.record("CreateOrder", 15*time.Millisecond, outcomeOK)

	snap, ok := c.snapshot(scenarioMethod)
	require.True(t, ok)
	assert.Equal(t, int64(2), snap.Calls)
	assert.Equal(t, int64(1), snap.Success)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.Codes[outcomeOK])
	assert.Equal(t, int64(1), snap.Codes[domain.CodeOrderCreationFailed])

	_, ok = c.snapshot("GetOrder")
	assert.False(t, ok)

	assert.True(t, c.trackOrder("ORD-000001", 0))
	assert.True(t, c.trackOrder("ORD-000001", 0), "same scenario may report its number twice")
	assert.False(t, c.trackOrder("ORD-000001", 1))
	assert.True(t, c.trackOrder("ORD-000002", 1))

	r := c.buildReport(time.Now(), 2*time.Second)
	assert.Equal(t, int64(2), r.TotalScenarios)
	assert.Equal(t, int64(1), r.FailedScenarios)
	assert.Equal(t, int64(2), r.UniqueOrders)
	assert.Equal(t, int64(1), r.DuplicateOrders)
	assert.Positive(t, r.RPS)
	assert.Contains(t, r.Methods, "CreateOrder")
}

func TestUtilityFunctions(t *testing.T) {
	assert.Equal(t, outcomeOK, outcomeOf(nil))
	assert.Equal(t, domain.CodeMissingCustomerEmail, outcomeOf(&client.APIError{StatusCode: 400, Code: domain.CodeMissingCustomerEmail}))
	assert.Equal(t, "HTTP_502", outcomeOf(&client.APIError{StatusCode: 502}))
	assert.Equal(t, outcomeTimeout, outcomeOf(context.DeadlineExceeded))
	assert.Equal(t, outcomeTransport, outcomeOf(errors.New("connection reset")))

	assert.Equal(t, 0.25, ratio(1, 4))
	assert.Zero(t, ratio(1, 0))

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	assert.Positive(t, summary.P50)
	assert.Positive(t, summary.P95)
	assert.Equal(t, float64(40), summary.Max)
	assert.Equal(t, float64(25), summary.Avg)
	assert.InDelta(t, 38.5, percentile(values, 95), 0.0001)
	assert.Equal(t, latencySummary{}, buildLatencySummary(nil))

	assert.Equal(t, "count:50", runTarget(config{total: 50}))
	assert.Equal(t, "duration:2s", runTarget(config{duration: 2 * time.Second}))
	assert.Equal(t, "duration:2s,max-total:10", runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}))
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2, DuplicateOrders: 1}
	require.NoError(t, writeJSONReport(path, sample))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(2), decoded.TotalScenarios)
	assert.Equal(t, int64(1), decoded.DuplicateOrders)

	assert.Error(t, writeJSONReport(".", sample))
}

func TestBuildSubmission(t *testing.T) {
	sub, err := buildSubmission(baseConfig(), sampleProduct(), 3, "run-1")
	require.NoError(t, err)

	order, err := sub.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "lt-run-1-3@load.example.com", order.CustomerEmail)
	assert.Equal(t, 2, order.TotalItems)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(7), order.Items[0].ProductID)
	assert.Equal(t, "5.00", order.TotalAmount)
}

func TestRunScenario(t *testing.T) {
	t.Run("create lookup", func(t *testing.T) {
		cfg := baseConfig()
		cfg.mode = modeCreateLookup
		c := newCollector()

		api := &fakeAPI{
			createFn: func(_ context.Context, _ domain.OrderSubmission, key string) (httpapi.CreateOrderResponse, error) {
				assert.Equal(t, "lt-create-run-1-1", key)
				return httpapi.CreateOrderResponse{Success: true, OrderID: 11, OrderNumber: "ORD-000011"}, nil
			},
			getFn: func(_ context.Context, number string) (domain.Order, error) {
				assert.Equal(t, "ORD-000011", number)
				return domain.Order{ID: 11, OrderNumber: number, TotalItems: 2}, nil
			},
		}

		require.NoError(t, runScenario(context.Background(), api, cfg, sampleProduct(), 1, "run-1", c))

		getSnap, ok := c.snapshot("GetOrder")
		require.True(t, ok)
		assert.Equal(t, int64(1), getSnap.Success)
	})

	t.Run("api error is recorded by code", func(t *testing.T) {
		c := newCollector()
		api := &fakeAPI{
			createFn: func(context.Context, domain.OrderSubmission, string) (httpapi.CreateOrderResponse, error) {
				return httpapi.CreateOrderResponse{}, &client.APIError{StatusCode: 500, Code: domain.CodeOrderCreationFailed}
			},
		}

		err := runScenario(context.Background(), api, baseConfig(), sampleProduct(), 2, "run-2", c)
		require.Error(t, err)

		snap, _ := c.snapshot(scenarioMethod)
		assert.Equal(t, int64(1), snap.Codes[domain.CodeOrderCreationFailed])
	})

	t.Run("empty order number", func(t *testing.T) {
		api := &fakeAPI{
			createFn: func(context.Context, domain.OrderSubmission, string) (httpapi.CreateOrderResponse, error) {
				return httpapi.CreateOrderResponse{Success: true}, nil
			},
		}

		err := runScenario(context.Background(), api, baseConfig(), sampleProduct(), 3, "run-3", newCollector())
		require.ErrorContains(t, err, "empty order number")
	})

	t.Run("duplicate order number", func(t *testing.T) {
		c := newCollector()
		api := &fakeAPI{
			createFn: func(context.Context, domain.OrderSubmission, string) (httpapi.CreateOrderResponse, error) {
				return httpapi.CreateOrderResponse{Success: true, OrderID: 1, OrderNumber: "ORD-000001"}, nil
			},
		}

		require.NoError(t, runScenario(context.Background(), api, baseConfig(), sampleProduct(), 1, "run", c))
		require.ErrorContains(t, runScenario(context.Background(), api, baseConfig(), sampleProduct(), 2, "run", c), "duplicate")

		r := c.buildReport(time.Now(), time.Second)
		assert.Equal(t, int64(1), r.DuplicateOrders)
		assert.Equal(t, int64(1), r.Methods[scenarioMethod].Codes[outcomeMismatch])
	})

	t.Run("lookup mismatch", func(t *testing.T) {
		cfg := baseConfig()
		cfg.mode = modeCreateLookup
		api := &fakeAPI{
			createFn: func(context.Context, domain.OrderSubmission, string) (httpapi.CreateOrderResponse, error) {
				return httpapi.CreateOrderResponse{Success: true, OrderID: 5, OrderNumber: "ORD-000005"}, nil
			},
			getFn: func(context.Context, string) (domain.Order, error) {
				return domain.Order{ID: 6, TotalItems: 2}, nil
			},
		}

		err := runScenario(context.Background(), api, cfg, sampleProduct(), 1, "run", newCollector())
		require.ErrorContains(t, err, "does not match")
	})
}

func TestRunLoad_WithFakeAPI(t *testing.T) {
	var seq atomic.Int64
	api := &fakeAPI{
		product: sampleProduct(),
		createFn: func(context.Context, domain.OrderSubmission, string) (httpapi.CreateOrderResponse, error) {
			n := seq.Add(1)
			return httpapi.CreateOrderResponse{Success: true, OrderID: n, OrderNumber: "ORD-" + strings.Repeat("0", 5) + string(rune('0'+n))}, nil
		},
	}

	cfg := baseConfig()
	cfg.total = 5
	cfg.concurrency = 2

	result, err := runLoad(context.Background(), api, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.TotalScenarios)
	assert.Equal(t, int64(5), result.UniqueOrders)
	assert.Zero(t, result.DuplicateOrders)

	cfg.productID = 99
	_, err = runLoad(context.Background(), api, cfg)
	require.ErrorContains(t, err, "load product 99")
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		UniqueOrders:     2,
		Methods: map[string]methodReport{
			scenarioMethod: {Calls: 2, Success: 2},
			"CreateOrder":  {Calls: 2, Success: 2},
		},
	}

	var out bytes.Buffer
	printReport(&out, r, config{mode: modeCreate, total: 2})

	assert.Contains(t, out.String(), "Load test summary")
	assert.Contains(t, out.String(), "CreateOrder: calls=2")
	assert.Contains(t, out.String(), "orders unique=2 duplicates=0")
	assert.NotContains(t, out.String(), "scenario: calls")
}

func TestExecuteAgainstMemoryStack(t *testing.T) {
	handler := httpapi.NewHandler(
		orders.NewService(memory.NewOrderRepository()),
		catalog.NewService(memory.NewSeededProductRepository()),
		httpapi.WithIdempotency(idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, nil)),
	)
	server := httptest.NewServer(handler.Router())
	defer server.Close()

	outPath := filepath.Join(t.TempDir(), "report.json")
	var out bytes.Buffer
	err := execute(context.Background(), []string{
		"-addr=" + server.URL,
		"-mode=create-lookup",
		"-total=20",
		"-concurrency=4",
		"-timeout=5s",
		"-product=2",
		"-output=" + outPath,
	}, &out)
	require.NoError(t, err, out.String())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(20), decoded.SuccessScenarios)
	assert.Equal(t, int64(20), decoded.UniqueOrders)
	assert.Zero(t, decoded.DuplicateOrders)
	assert.Equal(t, int64(20), decoded.Methods["GetOrder"].Success)
}

func TestExecuteFailures(t *testing.T) {
	err := execute(context.Background(), []string{"-mode=bad"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "invalid config")

	err = execute(context.Background(), []string{"-addr=localhost:8080"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "create api client")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/products") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":1,"name":"X","price":"$1.00","priceValue":"1.00"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom","code":"ORDER_CREATION_FAILED"}`))
	}))
	defer server.Close()

	var out bytes.Buffer
	err = execute(context.Background(), []string{"-addr=" + server.URL, "-total=3", "-concurrency=1"}, &out)
	require.ErrorContains(t, err, "failed=3")
	assert.Contains(t, out.String(), "CreateOrder: calls=3 success=0 failed=3")
}
