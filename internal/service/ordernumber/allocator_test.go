package ordernumber

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// uniqueStore имитирует хранилище с уникальным ограничением на номер.
type uniqueStore struct {
	mu     sync.Mutex
	taken  map[string]struct{}
	checks int
}

func newUniqueStore() *uniqueStore {
	return &uniqueStore{taken: make(map[string]struct{})}
}

func (s *uniqueStore) OrderNumberExists(_ context.Context, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	_, ok := s.taken[number]
	return ok, nil
}

func (s *uniqueStore) claim(_ context.Context, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.taken[number]; ok {
		return domain.ErrOrderNumberTaken
	}
	s.taken[number] = struct{}{}
	return nil
}

type alwaysTaken struct {
	calls int
}

func (c *alwaysTaken) OrderNumberExists(context.Context, string) (bool, error) {
	c.calls++
	return true, nil
}

func TestAllocate_TenThousandDistinct(t *testing.T) {
	store := newUniqueStore()
	allocator := NewAllocator(store)
	ctx := context.Background()

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		number, err := allocator.Allocate(ctx, store.claim)
		require.NoError(t, err)
		require.True(t, Validate(number), "bad format %q", number)
		_, dup := seen[number]
		require.False(t, dup, "duplicate number %q", number)
		seen[number] = struct{}{}
	}
	assert.Len(t, seen, 10000)
}

func TestAllocate_ExhaustsAfterExactlyTenAttempts(t *testing.T) {
	checker := &alwaysTaken{}
	allocator := NewAllocator(checker)

	number, err := allocator.Allocate(context.Background(), nil)

	require.ErrorIs(t, err, domain.ErrOrderNumberExhausted)
	assert.Empty(t, number)
	assert.Equal(t, MaxAttempts, checker.calls)
	assert.Equal(t, domain.CodeOrderNumberGeneration, domain.Code(err))
}

func TestAllocate_ClaimConflictCountsAsAttempt(t *testing.T) {
	store := newUniqueStore()
	claims := 0
	allocator := NewAllocator(store)

	_, err := allocator.Allocate(context.Background(), func(context.Context, string) error {
		claims++
		return domain.ErrOrderNumberTaken
	})

	require.ErrorIs(t, err, domain.ErrOrderNumberExhausted)
	assert.Equal(t, MaxAttempts, claims)
	assert.Equal(t, MaxAttempts, store.checks)
}

func TestAllocate_StopsOnFirstFreeNumber(t *testing.T) {
	store := newUniqueStore()
	store.taken[Format(100000)] = struct{}{}
	store.taken[Format(100001)] = struct{}{}

	draws := []int{0, 1, 2, 3}
	idx := 0
	allocator := NewAllocator(store, WithSource(func(int) int {
		v := draws[idx]
		idx++
		return v
	}))

	number, err := allocator.Allocate(context.Background(), store.claim)

	require.NoError(t, err)
	assert.Equal(t, "ORD-100002", number)
	assert.Equal(t, 3, store.checks)
}

func TestAllocate_CheckErrorAborts(t *testing.T) {
	boom := errors.New("db unavailable")
	allocator := NewAllocator(checkerFunc(func(context.Context, string) (bool, error) {
		return false, boom
	}))

	_, err := allocator.Allocate(context.Background(), nil)

	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrOrderNumberExhausted)
}

func TestAllocate_ClaimErrorAborts(t *testing.T) {
	boom := errors.New("insert failed")
	store := newUniqueStore()
	allocator := NewAllocator(store)

	_, err := allocator.Allocate(context.Background(), func(context.Context, string) error { return boom })

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.checks)
}

func TestAllocate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newUniqueStore()

	_, err := NewAllocator(store).Allocate(ctx, store.claim)

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.checks)
}

func TestAllocate_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewStorefrontMetricsWithRegisterer(reg)
	checker := &alwaysTaken{}

	_, err := NewAllocator(checker, WithMetrics(m)).Allocate(context.Background(), nil)
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			values[family.GetName()] += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(MaxAttempts), values["storefront_order_number_attempts_total"])
	assert.Equal(t, float64(1), values["storefront_order_number_exhausted_total"])
}

func TestFormatAndValidate(t *testing.T) {
	tests := []struct {
		number string
		want   bool
	}{
		{number: Format(100000), want: true},
		{number: Format(999999), want: true},
		{number: "ORD-12345", want: false},
		{number: "ORD-1234567", want: false},
		{number: "ord-123456", want: false},
		{number: "ORD-12a456", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.number))
		})
	}
	assert.Equal(t, "ORD-100000", Format(100000))
}

func TestSourceRange(t *testing.T) {
	var gotMin, gotMax bool
	allocator := NewAllocator(newUniqueStore(), WithSource(func(n int) int {
		require.Equal(t, 900000, n)
		return n - 1
	}))
	number := allocator.next()
	gotMax = number == "ORD-999999"

	allocator = NewAllocator(newUniqueStore(), WithSource(func(int) int { return 0 }))
	gotMin = allocator.next() == "ORD-100000"

	assert.True(t, gotMin)
	assert.True(t, gotMax)
}

type checkerFunc func(ctx context.Context, number string) (bool, error)

func (f checkerFunc) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	return f(ctx, number)
}
