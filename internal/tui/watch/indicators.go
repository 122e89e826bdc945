package watch

import (
	"strings"
	"time"
)

// Heartbeat rotates once per UI tick so a frozen screen is obvious.
type Heartbeat struct {
	frames []string
	index  int
}

func NewHeartbeat() Heartbeat {
	return Heartbeat{frames: []string{"⟲", "⟳"}}
}

func (h *Heartbeat) Tick() {
	h.index = (h.index + 1) % len(h.frames)
}

func (h Heartbeat) Current() string {
	return h.frames[h.index]
}

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Activity counts events per second over a sliding window and renders them
// as a sparkline, oldest second on the left.
type Activity struct {
	buckets []int
	head    time.Time // start of the newest bucket
	last    time.Time
}

func NewActivity(window int) Activity {
	if window <= 0 {
		window = 10
	}
	return Activity{buckets: make([]int, window)}
}

// Record counts one event at t.
func (a *Activity) Record(t time.Time) {
	a.advance(t)
	a.buckets[len(a.buckets)-1]++
	a.last = t
}

// Advance shifts the window forward to now without recording.
func (a *Activity) Advance(now time.Time) {
	a.advance(now)
}

func (a *Activity) advance(now time.Time) {
	sec := now.Truncate(time.Second)
	if a.head.IsZero() {
		a.head = sec
		return
	}
	shift := int(sec.Sub(a.head) / time.Second)
	if shift <= 0 {
		return
	}
	if shift >= len(a.buckets) {
		clear(a.buckets)
	} else {
		copy(a.buckets, a.buckets[shift:])
		clear(a.buckets[len(a.buckets)-shift:])
	}
	a.head = sec
}

// Total returns the number of events inside the window.
func (a Activity) Total() int {
	n := 0
	for _, b := range a.buckets {
		n += b
	}
	return n
}

// LastEvent returns when the last event was recorded.
func (a Activity) LastEvent() time.Time {
	return a.last
}

func (a Activity) Sparkline() string {
	peak := 0
	for _, b := range a.buckets {
		peak = max(peak, b)
	}
	var sb strings.Builder
	for _, b := range a.buckets {
		if peak == 0 || b == 0 {
			sb.WriteRune(' ')
			continue
		}
		idx := (b*len(sparkLevels) - 1) / peak
		sb.WriteRune(sparkLevels[min(idx, len(sparkLevels)-1)])
	}
	return sb.String()
}

func (a Activity) Render(theme Theme) string {
	if a.Total() == 0 {
		return theme.TickerInactive.Render(a.Sparkline())
	}
	return theme.TickerActive.Render(a.Sparkline())
}
