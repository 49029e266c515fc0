package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Snapshot struct {
	BytesCompleted int64
	LastUpdate     time.Time
}

// Update is what the report loop hands to its consumer on every tick.
type Update struct {
	Completed int64
	Total     int64
	Fraction  float64
	Speed     float64 // bytes per second since the previous update
	At        time.Time
}

// Aggregator accumulates bytes written by all range workers of one
// download. Every increment and every read happens under the same lock.
type Aggregator struct {
	mu         sync.Mutex
	total      int64
	completed  int64
	lastUpdate time.Time
	now        func() time.Time
}

func NewAggregator(total int64) *Aggregator {
	return &Aggregator{
		total:      total,
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

// Add records n more bytes. Negative increments are ignored and the
// counter never passes the total.
func (a *Aggregator) Add(n int64) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.completed += n
	if a.total > 0 && a.completed > a.total {
		log.Warn().Str("op", "progress/aggregator").Int64("completed", a.completed).Int64("total", a.total).Msg("progress overshoot, clamping")
		a.completed = a.total
	}
	a.lastUpdate = a.now()
	a.mu.Unlock()
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{BytesCompleted: a.completed, LastUpdate: a.lastUpdate}
}

// Report emits an Update right away and then once per interval until the
// completed count reaches total. When ctx ends first, one last Update is
// emitted before returning.
func (a *Aggregator) Report(ctx context.Context, total int64, interval time.Duration, emit func(Update)) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	previous := a.Snapshot()
	publish := func() bool {
		current := a.Snapshot()
		if emit != nil {
			emit(Update{
				Completed: current.BytesCompleted,
				Total:     total,
				Fraction:  fraction(current.BytesCompleted, total),
				Speed:     Speed(previous, current),
				At:        current.LastUpdate,
			})
		}
		previous = current
		return current.BytesCompleted >= total
	}
	if publish() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			publish()
			return
		case <-ticker.C:
			if publish() {
				return
			}
		}
	}
}

// Speed is the byte rate between two snapshots, zero when no time passed.
func Speed(previous, current Snapshot) float64 {
	elapsed := current.LastUpdate.Sub(previous.LastUpdate).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current.BytesCompleted-previous.BytesCompleted) / elapsed
}

func fraction(completed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return min(float64(completed)/float64(total), 1)
}
