// Package energy converts recent stream activity into a bounded priority
// score and a recommended dispatch delay.
package energy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

// Signal weights. Renormalized when a calculator fails.
const (
	weightInterest     = 0.5
	weightActivity     = 0.3
	weightRecency      = 0.2
	weightRelationship = 0.1
)

const (
	defaultInterest     = 0.3 // per-message interest when upstream didn't score
	defaultRelationship = 0.3 // relationship interest on fetch failure
	defaultEnergy       = 0.5 // used when every calculator fails

	energyFloor   = 0.1
	energyCeiling = 1.0

	jitterLow  = 0.8
	jitterHigh = 1.2
)

var errNoMessages = errors.New("no messages to score")

// RelationshipSource fetches the relationship interest score for a stream.
// Implemented by the memory/relationship collaborator; nil disables the
// signal (treated as a fetch failure, so the default applies).
type RelationshipSource interface {
	Interest(ctx context.Context, streamID string) (float64, error)
}

// Options configures a Scorer.
type Options struct {
	HighThreshold  float64 // energy above this is compressed upward
	ReplyThreshold float64 // energy below this is compressed downward
	MinInterval    time.Duration
	MaxInterval    time.Duration
	CacheTTL       time.Duration
	Seed           int64 // jitter RNG seed; 0 = time-based
}

// OptionsFunc supplies the current options, fetched on every scoring call
// so config reloads take effect without a restart. The seed is read once
// at construction.
type OptionsFunc func() Options

func (o Options) withDefaults() Options {
	if o.HighThreshold <= 0 {
		o.HighThreshold = 0.7
	}
	if o.ReplyThreshold <= 0 {
		o.ReplyThreshold = 0.4
	}
	if o.MinInterval <= 0 {
		o.MinInterval = time.Second
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 60 * time.Second
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 60 * time.Second
	}
	return o
}

// Result is one scoring outcome.
type Result struct {
	Energy     float64
	Interval   time.Duration
	ComputedAt time.Time
}

// Scorer computes energy and dispatch intervals, caching results per
// stream for a TTL. Safe for concurrent use from any stream's goroutine.
type Scorer struct {
	optsFn OptionsFunc
	rel    RelationshipSource
	cache  *Cache

	mu  sync.Mutex
	rng *rand.Rand
}

// NewScorer creates a scorer with fixed options. rel may be nil.
func NewScorer(opts Options, rel RelationshipSource) *Scorer {
	return NewScorerFunc(func() Options { return opts }, rel)
}

// NewScorerFunc creates a scorer that re-reads its options on every
// scoring call. rel may be nil.
func NewScorerFunc(optsFn OptionsFunc, rel RelationshipSource) *Scorer {
	opts := optsFn().withDefaults()
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Scorer{
		optsFn: optsFn,
		rel:    rel,
		cache:  NewCache(opts.CacheTTL),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (s *Scorer) options() Options {
	return s.optsFn().withDefaults()
}

// Score returns the energy and recommended dispatch interval for a stream.
// Cached results are served until the TTL expires; recomputation reads the
// messages only and never mutates stream state.
func (s *Scorer) Score(ctx context.Context, streamID string, msgs []bus.Message) Result {
	s.cache.SetTTL(s.options().CacheTTL)
	if res, ok := s.cache.Get(streamID); ok {
		return res
	}

	energy := s.computeEnergy(ctx, streamID, msgs)
	energy = s.transform(energy)

	res := Result{
		Energy:     energy,
		Interval:   s.interval(energy),
		ComputedAt: time.Now(),
	}
	s.cache.Put(streamID, res)
	return res
}

// Invalidate drops the cached result for a stream, forcing the next Score
// call to recompute.
func (s *Scorer) Invalidate(streamID string) {
	s.cache.Invalidate(streamID)
}

// CacheStats returns aggregate cache hit/miss counters.
func (s *Scorer) CacheStats() (hits, misses uint64) {
	return s.cache.Stats()
}

// computeEnergy blends the four signals by normalized weight. A failing
// calculator is logged and dropped; the remaining weights renormalize. If
// everything fails the default energy applies.
func (s *Scorer) computeEnergy(ctx context.Context, streamID string, msgs []bus.Message) float64 {
	type signal struct {
		name   string
		weight float64
		calc   func() (float64, error)
	}

	signals := []signal{
		{"interest", weightInterest, func() (float64, error) { return interestScore(msgs) }},
		{"activity", weightActivity, func() (float64, error) { return activityScore(msgs) }},
		{"recency", weightRecency, func() (float64, error) { return recencyScore(msgs, time.Now()) }},
		{"relationship", weightRelationship, func() (float64, error) { return s.relationshipScore(ctx, streamID) }},
	}

	var sum, weightSum float64
	for _, sig := range signals {
		v, err := sig.calc()
		if err != nil {
			slog.Debug("energy calculator skipped", "stream", streamID, "signal", sig.name, "error", err)
			continue
		}
		sum += v * sig.weight
		weightSum += sig.weight
	}

	if weightSum == 0 {
		return defaultEnergy
	}
	return sum / weightSum
}

// interestScore is the mean of the per-message interest field.
func interestScore(msgs []bus.Message) (float64, error) {
	if len(msgs) == 0 {
		return 0, errNoMessages
	}
	var sum float64
	for _, m := range msgs {
		sum += m.InterestOrDefault(defaultInterest)
	}
	return sum / float64(len(msgs)), nil
}

// activityScore relates reply/react/mention engagement to message volume.
func activityScore(msgs []bus.Message) (float64, error) {
	if len(msgs) == 0 {
		return 0, errNoMessages
	}
	var engagement int
	for _, m := range msgs {
		engagement += m.ReplyCount + m.ReactCount + m.MentionCount
	}
	score := float64(engagement) / float64(len(msgs))
	return clamp(score, 0, 1), nil
}

// recencyScore buckets the age of the newest message with fixed decay.
func recencyScore(msgs []bus.Message, now time.Time) (float64, error) {
	if len(msgs) == 0 {
		return 0, errNoMessages
	}
	newest := msgs[0].Timestamp
	for _, m := range msgs[1:] {
		if m.Timestamp.After(newest) {
			newest = m.Timestamp
		}
	}
	if newest.IsZero() {
		return 0, fmt.Errorf("newest message has no timestamp")
	}

	age := now.Sub(newest)
	switch {
	case age <= time.Hour:
		return 1.0, nil
	case age <= 6*time.Hour:
		return 0.8, nil
	case age <= 24*time.Hour:
		return 0.5, nil
	case age <= 7*24*time.Hour:
		return 0.3, nil
	default:
		return 0.1, nil
	}
}

// relationshipScore fetches the externally maintained relationship
// interest; any failure falls back to the default rather than dropping the
// signal.
func (s *Scorer) relationshipScore(ctx context.Context, streamID string) (float64, error) {
	if s.rel == nil {
		return defaultRelationship, nil
	}
	v, err := s.rel.Interest(ctx, streamID)
	if err != nil {
		slog.Debug("relationship interest fetch failed", "stream", streamID, "error", err)
		return defaultRelationship, nil
	}
	return clamp(v, 0, 1), nil
}

// transform applies the three-segment curve: compress upward above the
// high threshold, pass through between thresholds, compress downward below
// the reply threshold. Clamped to [0.1, 1.0].
func (s *Scorer) transform(x float64) float64 {
	opts := s.options()
	high := opts.HighThreshold
	reply := opts.ReplyThreshold

	var y float64
	switch {
	case x > high:
		y = high + math.Pow(math.Max(0, x-high), 0.8)
	case x >= reply:
		y = x
	default:
		y = reply * math.Pow(x/reply, 1.2)
	}
	return clamp(y, energyFloor, energyCeiling)
}

// interval maps energy to a base delay band, applies uniform jitter so
// many streams don't fire in lockstep, and clamps to the configured
// bounds.
func (s *Scorer) interval(energy float64) time.Duration {
	var base time.Duration
	switch {
	case energy >= 0.9:
		base = 1 * time.Second
	case energy >= 0.7:
		base = 3 * time.Second
	case energy >= 0.5:
		base = 8 * time.Second
	case energy >= 0.3:
		base = 15 * time.Second
	default:
		base = 30 * time.Second
	}

	s.mu.Lock()
	jitter := jitterLow + s.rng.Float64()*(jitterHigh-jitterLow)
	s.mu.Unlock()

	opts := s.options()
	d := time.Duration(float64(base) * jitter)
	if d < opts.MinInterval {
		d = opts.MinInterval
	}
	if d > opts.MaxInterval {
		d = opts.MaxInterval
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
