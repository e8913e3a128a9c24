package market

import (
	"fmt"
	"time"
)

// ConfigError reports an invalid configuration value. It is raised at
// construction time only, never mid-stream.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// OrderingError reports a non-monotonic timestamp in the input stream.
// It is fatal on first violation: every downstream invariant assumes
// time-ordered input.
type OrderingError struct {
	Prev time.Time
	Cur  time.Time
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("non-monotonic timestamp: %s after %s",
		e.Cur.Format(time.RFC3339Nano), e.Prev.Format(time.RFC3339Nano))
}
