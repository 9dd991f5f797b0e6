// Package watermark tracks the latest publication date committed by a
// successful run and derives the fetch window for the next one.
package watermark

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/civil"
)

// Mode selects how the fetch window is computed.
type Mode string

const (
	// Backfill fetches everything from the configured start date.
	Backfill Mode = "backfill"
	// Incremental fetches only dates after the watermark.
	Incremental Mode = "incremental"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Backfill:
		return Backfill, nil
	case Incremental, "update":
		return Incremental, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected backfill or incremental)", s)
	}
}

// Store persists the watermark as an ISO date string. LoadWatermark returns
// "" when no watermark was ever saved.
type Store interface {
	LoadWatermark(ctx context.Context) (string, error)
	SaveWatermark(ctx context.Context, value string) error
}

// Window is an inclusive publication date range.
type Window struct {
	From civil.Date `json:"from"`
	To   civil.Date `json:"to"`
}

// Empty reports whether the window contains no dates.
func (w Window) Empty() bool {
	return w.From.After(w.To)
}

func (w Window) String() string {
	return w.From.String() + ".." + w.To.String()
}

// Tracker reads and advances the watermark.
type Tracker struct {
	store         Store
	backfillStart civil.Date
}

// NewTracker creates a Tracker. backfillStart is the first date fetched by a
// backfill, or by an incremental run with no watermark yet.
func NewTracker(store Store, backfillStart civil.Date) *Tracker {
	return &Tracker{store: store, backfillStart: backfillStart}
}

// Read returns the current watermark. ok is false if none was ever saved.
func (t *Tracker) Read(ctx context.Context) (d civil.Date, ok bool, err error) {
	raw, err := t.store.LoadWatermark(ctx)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("loading watermark: %w", err)
	}
	if raw == "" {
		return civil.Date{}, false, nil
	}
	d, err = civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("stored watermark %q is not a date: %w", raw, err)
	}
	return d, true, nil
}

// Window returns the range to fetch. An incremental window starts the day
// after the watermark so already committed dates are never refetched.
func (t *Tracker) Window(ctx context.Context, mode Mode, until civil.Date) (Window, error) {
	w := Window{From: t.backfillStart, To: until}
	if mode == Backfill {
		return w, nil
	}

	current, ok, err := t.Read(ctx)
	if err != nil {
		return Window{}, err
	}
	if ok {
		w.From = current.AddDays(1)
	}
	return w, nil
}

// Advance moves the watermark to d unless it already is at or beyond it.
// It returns the watermark in effect afterwards.
func (t *Tracker) Advance(ctx context.Context, d civil.Date) (civil.Date, error) {
	if !d.IsValid() {
		return civil.Date{}, fmt.Errorf("invalid watermark date %v", d)
	}

	current, ok, err := t.Read(ctx)
	if err != nil {
		return civil.Date{}, err
	}
	if ok && !d.After(current) {
		return current, nil
	}

	if err := t.store.SaveWatermark(ctx, d.String()); err != nil {
		return civil.Date{}, fmt.Errorf("saving watermark: %w", err)
	}
	return d, nil
}

// Memory is an in-memory Store.
type Memory struct {
	mu    sync.Mutex
	value string
	saves int
}

// NewMemory returns a Memory store holding value ("" for none).
func NewMemory(value string) *Memory {
	return &Memory{value: value}
}

// LoadWatermark implements Store.
func (m *Memory) LoadWatermark(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

// SaveWatermark implements Store.
func (m *Memory) SaveWatermark(_ context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
	m.saves++
	return nil
}

// Saves returns how many times SaveWatermark was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
