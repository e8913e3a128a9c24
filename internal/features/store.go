package features

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quantforge/tickpipe/internal/market"
)

// Extractor computes one named value from a bar window. Implementations
// must be pure: same window, same value. The window passed to Extract ends
// at the feature's as-of bar — the store never hands an extractor anything
// newer, which is what makes lookahead structurally impossible.
type Extractor interface {
	Name() string
	Extract(window []market.Bar) (float64, error)
}

type registration struct {
	extractor Extractor
	lag       int
	warmUp    int
	stats     *OnlineStats
}

// Store owns feature extraction for one instrument. Batch ExtractAll and
// incremental AddBar agree bit-for-bit on identical input. The per-feature
// OnlineStats accumulators are the only mutable state; sharing one Store
// across goroutines needs external synchronization.
type Store struct {
	order   []string
	regs    map[string]*registration
	bars    []market.Bar
	onError func(feature string, barID int64)
}

// NewStore creates an empty store; register extractors before feeding bars.
func NewStore() *Store {
	return &Store{regs: make(map[string]*registration)}
}

// Register adds an extractor with its publish lag and warm-up window.
// lag 0 means the default of one bar; warmUp 0 means a single-bar window.
// Duplicate names and negative parameters fail here, never mid-stream.
func (s *Store) Register(e Extractor, lag, warmUp int) error {
	if e == nil {
		return &market.ConfigError{Field: "extractor", Reason: "required"}
	}
	name := e.Name()
	if name == "" {
		return &market.ConfigError{Field: "extractor", Reason: "empty feature name"}
	}
	if _, dup := s.regs[name]; dup {
		return &market.ConfigError{Field: "extractor", Reason: "duplicate feature name " + name}
	}
	if lag < 0 {
		return &market.ConfigError{Field: "lag", Reason: "must be non-negative"}
	}
	if lag == 0 {
		lag = 1
	}
	if warmUp < 0 {
		return &market.ConfigError{Field: "warm_up_bars", Reason: "must be non-negative"}
	}
	if warmUp == 0 {
		warmUp = 1
	}
	s.regs[name] = &registration{extractor: e, lag: lag, warmUp: warmUp, stats: &OnlineStats{}}
	s.order = append(s.order, name)
	return nil
}

// OnExtractError registers a hook invoked whenever an extractor fails or
// panics for a bar, so callers can count failures per feature without
// coupling the store to a metrics backend.
func (s *Store) OnExtractError(fn func(feature string, barID int64)) {
	s.onError = fn
}

// FeatureNames returns the registered names in registration order.
func (s *Store) FeatureNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// AddBar ingests the next bar and publishes its feature vector: synchronous,
// O(1) per feature, no I/O. Each feature's value is computed over the window
// ending lag bars back; before warm-up the feature is masked invalid rather
// than defaulted. An extractor failure poisons only that (feature, bar)
// pair.
func (s *Store) AddBar(bar market.Bar) (market.FeatureVector, error) {
	if n := len(s.bars); n > 0 && bar.StartTime.Before(s.bars[n-1].StartTime) {
		return market.FeatureVector{}, &market.OrderingError{
			Prev: s.bars[n-1].StartTime, Cur: bar.StartTime,
		}
	}
	s.bars = append(s.bars, bar)
	n := len(s.bars) - 1

	vec := market.FeatureVector{
		BarID:   bar.ID,
		AsOfBar: bar.ID - int64(s.minLag()),
		Values:  make(map[string]float64, len(s.order)),
		Valid:   make(map[string]bool, len(s.order)),
	}
	for _, name := range s.order {
		reg := s.regs[name]
		asOf := n - reg.lag
		if asOf < 0 || asOf+1 < reg.warmUp {
			vec.Valid[name] = false
			continue
		}
		window := s.bars[asOf+1-reg.warmUp : asOf+1]
		value, err := safeExtract(reg.extractor, window)
		if err != nil {
			log.Warn().
				Err(err).
				Str("feature", name).
				Int64("bar_id", bar.ID).
				Msg("extractor failed, masking value invalid")
			if s.onError != nil {
				s.onError(name, bar.ID)
			}
			vec.Valid[name] = false
			continue
		}
		vec.Values[name] = value
		vec.Valid[name] = true
		reg.stats.Update(value)
	}
	return vec, nil
}

// ExtractAll computes vectors for a full bar sequence by replaying it
// through a fresh session, so batch output is byte-identical to feeding the
// same bars through AddBar — and the caller's incremental state is left
// untouched.
func (s *Store) ExtractAll(bs []market.Bar) ([]market.FeatureVector, error) {
	session := s.freshSession()
	out := make([]market.FeatureVector, 0, len(bs))
	for i := range bs {
		vec, err := session.AddBar(bs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// Stats returns a snapshot of a feature's running statistics.
func (s *Store) Stats(name string) (OnlineStats, bool) {
	reg, ok := s.regs[name]
	if !ok {
		return OnlineStats{}, false
	}
	return *reg.stats, true
}

func (s *Store) minLag() int {
	min := 0
	for i, name := range s.order {
		lag := s.regs[name].lag
		if i == 0 || lag < min {
			min = lag
		}
	}
	return min
}

func (s *Store) freshSession() *Store {
	clone := NewStore()
	clone.onError = s.onError
	for _, name := range s.order {
		reg := s.regs[name]
		clone.regs[name] = &registration{
			extractor: reg.extractor,
			lag:       reg.lag,
			warmUp:    reg.warmUp,
			stats:     &OnlineStats{},
		}
		clone.order = append(clone.order, name)
	}
	return clone
}

// safeExtract isolates extractor panics so a misbehaving extractor cannot
// take down the pipeline.
func safeExtract(e Extractor, window []market.Bar) (value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor %s panicked: %v", e.Name(), r)
		}
	}()
	return e.Extract(window)
}
