package sequence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryCounterRepo struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemoryCounterRepo() *memoryCounterRepo {
	return &memoryCounterRepo{values: make(map[string]int64)}
}

func key(category Category, officeID int64) string {
	return fmt.Sprintf("%s/%d", category, officeID)
}

func (r *memoryCounterRepo) Get(ctx context.Context, category Category, officeID int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key(category, officeID)]
	return v, ok, nil
}

func (r *memoryCounterRepo) Set(ctx context.Context, category Category, officeID int64, value int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key(category, officeID)] = value
	return nil
}

func TestNextIsStrictlyIncreasingUnderConcurrency(t *testing.T) {
	alloc := NewAllocator(newMemoryCounterRepo(), nil)
	ctx := context.Background()

	const n = 64
	results := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := alloc.Next(ctx, CategoryExpenseClaim, 1)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, v := range results {
		require.Equal(t, int64(i+1), v, "expected the set {1..%d} with no duplicates or gaps", n)
	}
}

func TestCountersAreScopedPerCategoryAndOffice(t *testing.T) {
	alloc := NewAllocator(newMemoryCounterRepo(), nil)
	ctx := context.Background()

	v, err := alloc.Next(ctx, CategoryExpenseClaim, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = alloc.Next(ctx, CategoryExpenseClaim, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = alloc.Next(ctx, CategoryCashAdvancement, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
}

func TestRollbackRoundTrip(t *testing.T) {
	alloc := NewAllocator(newMemoryCounterRepo(), nil)
	ctx := context.Background()

	_, err := alloc.Next(ctx, CategoryExpenseClaim, 1)
	require.NoError(t, err)
	allocated, err := alloc.Next(ctx, CategoryExpenseClaim, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), allocated)

	restored, err := alloc.Rollback(ctx, CategoryExpenseClaim, 1, allocated, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), restored)

	current, err := alloc.Current(ctx, CategoryExpenseClaim, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), current)
}

func TestRollbackRefusesStaleExpectedValue(t *testing.T) {
	alloc := NewAllocator(newMemoryCounterRepo(), nil)
	ctx := context.Background()

	first, err := alloc.Next(ctx, CategoryExpenseClaim, 1)
	require.NoError(t, err)

	// Concurrent allocation moves the counter past the caller's snapshot.
	_, err = alloc.Next(ctx, CategoryExpenseClaim, 1)
	require.NoError(t, err)

	_, err = alloc.Rollback(ctx, CategoryExpenseClaim, 1, first, true)
	require.ErrorIs(t, err, ErrSequenceConflict)

	// Non-exact mode returns the live value without touching it.
	current, err := alloc.Rollback(ctx, CategoryExpenseClaim, 1, first, false)
	require.NoError(t, err)
	require.Equal(t, int64(2), current)
}

func TestRollbackDoesNotDoubleDecrement(t *testing.T) {
	alloc := NewAllocator(newMemoryCounterRepo(), nil)
	ctx := context.Background()

	allocated, err := alloc.Next(ctx, CategoryExpenseClaim, 1)
	require.NoError(t, err)

	_, err = alloc.Rollback(ctx, CategoryExpenseClaim, 1, allocated, true)
	require.NoError(t, err)

	_, err = alloc.Rollback(ctx, CategoryExpenseClaim, 1, allocated, true)
	require.ErrorIs(t, err, ErrSequenceConflict)
}

func TestWrapModeResetsAtCeiling(t *testing.T) {
	alloc := NewAllocator(newMemoryCounterRepo(), map[Category]int64{CategoryDraft: 3})
	ctx := context.Background()

	var got []int64
	for i := 0; i < 5; i++ {
		v, err := alloc.Next(ctx, CategoryDraft, 9)
		require.NoError(t, err)
		got = append(got, v)
	}
	require.Equal(t, []int64{1, 2, 3, 1, 2}, got)
}

func TestParseSerial(t *testing.T) {
	n, err := ParseSerial("HQ000123")
	require.NoError(t, err)
	require.Equal(t, int64(123), n)

	n, err = ParseSerial("42")
	require.NoError(t, err)
	require.Equal(t, int64(42), n)

	_, err = ParseSerial("HQ")
	require.ErrorIs(t, err, ErrNoTrailingNumber)

	require.Equal(t, "HQ000042", FormatSerial("HQ", 42))
}
