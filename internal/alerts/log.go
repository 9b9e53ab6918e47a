package alerts

import "sync"

// DefaultMaxAlerts bounds the in-memory log when no size is configured.
const DefaultMaxAlerts = 100

// AlertLog keeps the most recent alerts. When full, the oldest entry is
// evicted first.
//
// AlertLog is safe for concurrent use.
type AlertLog struct {
	mu   sync.RWMutex
	buf  []Alert
	head int // index of the oldest entry once buf is full
	max  int
}

// NewAlertLog returns a log holding at most max alerts.
func NewAlertLog(max int) *AlertLog {
	if max <= 0 {
		max = DefaultMaxAlerts
	}
	return &AlertLog{buf: make([]Alert, 0, max), max: max}
}

// Append adds a copy of a to the log, evicting the oldest alert when full.
func (l *AlertLog) Append(a Alert) {
	a = a.clone()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) < l.max {
		l.buf = append(l.buf, a)
		return
	}
	l.buf[l.head] = a
	l.head = (l.head + 1) % l.max
}

// Recent returns copies of up to limit alerts, oldest first and most recent
// last. limit <= 0 returns everything.
func (l *AlertLog) Recent(limit int) []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.buf)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, 0, limit)
	for i := n - limit; i < n; i++ {
		out = append(out, l.buf[(l.head+i)%n].clone())
	}
	return out
}

// Len returns the number of alerts held.
func (l *AlertLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

// Cap returns the configured bound.
func (l *AlertLog) Cap() int { return l.max }
