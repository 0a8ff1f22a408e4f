// Package throttle rate-limits progress events so a UI or logging sink is not
// overwhelmed by the extractor's callback cadence.
package throttle

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseInterval = 250 * time.Millisecond
	// historySize bounds the per-id sample window used for the dynamic
	// interval calculation.
	historySize = 5
	// warmupUpdates is how many initial events per id are always forwarded,
	// so a consumer gets immediate feedback at download start.
	warmupUpdates = 5
)

type sample struct {
	at      time.Time
	percent float64
}

type idState struct {
	lastUpdate  time.Time
	updateCount int
	history     []sample
	lastPercent float64
	lastStatus  string
	lastMessage string
}

// ProgressThrottler decides, per event, whether a progress update should be
// forwarded. The decision is a pure function of the per-id history plus the
// current event; state for an id must be Reset when its download ends, to
// bound memory.
type ProgressThrottler struct {
	baseInterval time.Duration
	dynamic      bool
	mu           sync.Mutex
	state        map[string]*idState
}

func NewProgressThrottler(baseInterval time.Duration) *ProgressThrottler {
	if baseInterval <= 0 {
		baseInterval = DefaultBaseInterval
	}
	return &ProgressThrottler{
		baseInterval: baseInterval,
		dynamic:      true,
		state:        make(map[string]*idState),
	}
}

// ShouldUpdate reports whether this event should be forwarded to the consumer.
func (t *ProgressThrottler) ShouldUpdate(playlistID string, percent float64, status string, message string) bool {
	return t.ShouldUpdateAt(playlistID, percent, status, message, time.Now())
}

// ShouldUpdateAt is ShouldUpdate with an explicit clock, for deterministic
// decisions.
func (t *ProgressThrottler) ShouldUpdateAt(playlistID string, percent float64, status string, message string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.state[playlistID]
	if !ok {
		s = &idState{}
		t.state[playlistID] = s
	}

	forward := func() bool {
		t.track(s, percent, status, message, now)
		return true
	}

	// Status transitions always propagate.
	if status != "" && status != s.lastStatus {
		return forward()
	}

	// Meaningful message changes propagate; consecutive "Downloading:"
	// messages that differ only in ETA/speed noise do not.
	if message != "" && message != s.lastMessage {
		if !strings.HasPrefix(s.lastMessage, "Downloading:") || !strings.HasPrefix(message, "Downloading:") {
			return forward()
		}
	}

	if s.updateCount < warmupUpdates {
		return forward()
	}

	if now.Sub(s.lastUpdate) >= t.interval(s, percent) {
		return forward()
	}

	// Completion is never delayed.
	if percent >= 100 && s.lastPercent < 100 {
		return forward()
	}

	// Neither are large jumps.
	if percent-s.lastPercent > 10 || s.lastPercent-percent > 10 {
		return forward()
	}

	return false
}

// Reset discards all state for an id. Call when the id's download ends.
func (t *ProgressThrottler) Reset(playlistID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, playlistID)
}

// ResetAll discards all per-id state.
func (t *ProgressThrottler) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = make(map[string]*idState)
}

func (t *ProgressThrottler) track(s *idState, percent float64, status string, message string, now time.Time) {
	s.lastUpdate = now
	s.updateCount++
	s.history = append(s.history, sample{at: now, percent: percent})
	if len(s.history) > historySize {
		s.history = s.history[1:]
	}
	s.lastPercent = percent
	if status != "" {
		s.lastStatus = status
	}
	if message != "" {
		s.lastMessage = message
	}
}

// interval widens for slow progress (fewer redundant updates) and narrows for
// fast progress and near completion (snappier final updates).
func (t *ProgressThrottler) interval(s *idState, percent float64) time.Duration {
	if !t.dynamic || len(s.history) < 2 {
		return t.baseInterval
	}

	first, last := s.history[0], s.history[len(s.history)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return t.baseInterval
	}

	rate := (last.percent - first.percent) / elapsed
	if rate < 0 {
		rate = -rate
	}

	switch {
	case rate < 0.5:
		return minDuration(2*time.Second, t.baseInterval*4)
	case rate < 2.0:
		return t.baseInterval * 2
	case rate > 10.0:
		return maxDuration(100*time.Millisecond, t.baseInterval/2)
	}

	if percent > 95 {
		return maxDuration(100*time.Millisecond, t.baseInterval/2)
	}
	return t.baseInterval
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
