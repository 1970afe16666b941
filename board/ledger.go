package board

import "time"

// Ledger is the bounded, ordered drawing history of one room.
// It is owned by the room actor and is not safe for concurrent use.
type Ledger struct {
	strokes   []Stroke
	limit     int
	trimTo    int
	updatedAt time.Time
	dirty     bool
}

func NewLedger(limit, trimTo int) *Ledger {
	if limit <= 0 {
		limit = DefaultRoomConfig().LedgerCap
	}
	if trimTo <= 0 || trimTo >= limit {
		trimTo = limit - limit/10
	}
	return &Ledger{
		strokes: make([]Stroke, 0, 64),
		limit:   limit,
		trimTo:  trimTo,
	}
}

// Append records s and returns how many of the oldest strokes were dropped.
func (l *Ledger) Append(s Stroke, now time.Time) int {
	l.strokes = append(l.strokes, s)
	trimmed := l.trim()
	l.updatedAt = now
	l.dirty = true
	return trimmed
}

func (l *Ledger) trim() int {
	if len(l.strokes) <= l.limit {
		return 0
	}
	drop := len(l.strokes) - l.trimTo
	kept := make([]Stroke, l.trimTo, l.limit+1)
	copy(kept, l.strokes[drop:])
	l.strokes = kept
	return drop
}

func (l *Ledger) Clear(now time.Time) {
	l.strokes = l.strokes[:0]
	l.updatedAt = now
	l.dirty = true
}

// Snapshot returns a copy safe to hand out of the actor.
func (l *Ledger) Snapshot() []Stroke {
	out := make([]Stroke, len(l.strokes))
	copy(out, l.strokes)
	return out
}

func (l *Ledger) Len() int {
	return len(l.strokes)
}

// Seed loads durable history. It only applies while the ledger is empty,
// so an in-memory history always wins over a stored one.
func (l *Ledger) Seed(strokes []Stroke, updatedAt time.Time) bool {
	if len(l.strokes) > 0 || len(strokes) == 0 {
		return false
	}
	l.strokes = append(l.strokes[:0], strokes...)
	l.updatedAt = updatedAt
	l.dirty = l.trim() > 0
	return true
}

func (l *Ledger) UpdatedAt() time.Time {
	return l.updatedAt
}

func (l *Ledger) Dirty() bool {
	return l.dirty
}

func (l *Ledger) MarkClean() {
	l.dirty = false
}
