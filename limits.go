package liquid

// limiter is a single resource budget: consumed grows monotonically and
// the caller is told once it has passed limit (nil limit means
// unbounded). Each resource cap gets its own limiter and its own typed
// error, rather than one generic fuel pool.
type limiter struct {
	consumed uint64
	limit    *uint64
}

func newLimiter(limit *uint64) *limiter { return &limiter{limit: limit} }

// consume adds n to the running total and reports whether the budget
// is still within bounds.
func (l *limiter) consume(n uint64) bool {
	l.consumed += n
	if l.limit != nil && l.consumed > *l.limit {
		return false
	}
	return true
}
