package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrSequenceConflict signals that the counter moved between an
	// allocation and its attempted rollback. The caller must not retry the
	// rollback: the serial may already be externally visible.
	ErrSequenceConflict = errors.New("sequence: counter changed since allocation")

	// ErrNoTrailingNumber signals a serial without a numeric suffix.
	ErrNoTrailingNumber = errors.New("sequence: serial has no trailing number")
)

// Allocator issues monotonically increasing serial numbers per
// (category, office). It holds its own lock so issuance stays atomic even
// when called outside a coordinator critical section.
type Allocator struct {
	mu   sync.Mutex
	repo Repository

	// wrapCeilings maps categories that recycle once the ceiling is
	// reached. Used for draft-only sequences that never leave the office.
	wrapCeilings map[Category]int64
}

// NewAllocator constructs an Allocator. Categories listed in wrapCeilings
// reset to 1 once their ceiling is issued.
func NewAllocator(repo Repository, wrapCeilings map[Category]int64) *Allocator {
	return &Allocator{repo: repo, wrapCeilings: wrapCeilings}
}

// Next allocates the next value for (category, office) and persists it.
func (a *Allocator) Next(ctx context.Context, category Category, officeID int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, _, err := a.repo.Get(ctx, category, officeID)
	if err != nil {
		return 0, fmt.Errorf("sequence: read counter: %w", err)
	}
	next := current + 1
	if ceiling, ok := a.wrapCeilings[category]; ok && ceiling > 0 && next > ceiling {
		next = 1
	}
	if err := a.repo.Set(ctx, category, officeID, next); err != nil {
		return 0, fmt.Errorf("sequence: persist counter: %w", err)
	}
	return next, nil
}

// Current returns the last issued value without mutating the counter.
func (a *Allocator) Current(ctx context.Context, category Category, officeID int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, _, err := a.repo.Get(ctx, category, officeID)
	if err != nil {
		return 0, fmt.Errorf("sequence: read counter: %w", err)
	}
	return current, nil
}

// Rollback undoes one allocation when the counter still equals expected.
// With exact set a mismatch returns ErrSequenceConflict; otherwise the
// unmodified current value is returned silently. It never decrements past
// a value another caller may have observed.
func (a *Allocator) Rollback(ctx context.Context, category Category, officeID int64, expected int64, exact bool) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, _, err := a.repo.Get(ctx, category, officeID)
	if err != nil {
		return 0, fmt.Errorf("sequence: read counter: %w", err)
	}
	if current != expected {
		if exact {
			return current, fmt.Errorf("%w: have %d, expected %d", ErrSequenceConflict, current, expected)
		}
		return current, nil
	}
	restored := current - 1
	if restored < 0 {
		restored = 0
	}
	if err := a.repo.Set(ctx, category, officeID, restored); err != nil {
		return current, fmt.Errorf("sequence: persist rollback: %w", err)
	}
	return restored, nil
}

// FormatSerial renders a human-visible serial from an office code and a
// sequence value, e.g. "HQ000042".
func FormatSerial(officeCode string, value int64) string {
	return fmt.Sprintf("%s%06d", officeCode, value)
}

// ParseSerial strips the non-numeric office-code prefix and returns the
// trailing integer of a serial.
func ParseSerial(serial string) (int64, error) {
	trimmed := strings.TrimSpace(serial)
	start := len(trimmed)
	for start > 0 && trimmed[start-1] >= '0' && trimmed[start-1] <= '9' {
		start--
	}
	if start == len(trimmed) {
		return 0, fmt.Errorf("%w: %q", ErrNoTrailingNumber, serial)
	}
	value, err := strconv.ParseInt(trimmed[start:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sequence: parse serial %q: %w", serial, err)
	}
	return value, nil
}
