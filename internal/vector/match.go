package vector

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/hyperjump/facegate/internal/models"
	"go.uber.org/zap"
)

// ErrStoreScan is returned when the candidate stream fails part way through a decision.
// A partial scan cannot prove it saw the true minimum, so it is never reported as "no match".
var ErrStoreScan = errors.New("store scan failed")

// StoreScanError wraps the underlying store failure and how far the scan got.
type StoreScanError struct {
	Scanned int
	Err     error
}

func (e *StoreScanError) Error() string {
	return fmt.Sprintf("store scan failed after %d candidates: %v", e.Scanned, e.Err)
}

// Is matches ErrStoreScan.
func (e *StoreScanError) Is(target error) bool {
	return target == ErrStoreScan
}

// Unwrap returns the store error.
func (e *StoreScanError) Unwrap() error {
	return e.Err
}

// Candidates is a single-pass stream of enrolled identities as yielded by a store.
// A non-nil error aborts the scan.
type Candidates = iter.Seq2[*models.Identity, error]

// FromSlice streams ids in slice order.
func FromSlice(ids []*models.Identity) Candidates {
	return func(yield func(*models.Identity, error) bool) {
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}

// MatchOption configures a scan.
type MatchOption func(*matchOptions)

type matchOptions struct {
	logger *zap.Logger
}

// WithLogger logs skipped candidates at debug level and a summary per scan.
func WithLogger(l *zap.Logger) MatchOption {
	return func(o *matchOptions) { o.logger = l }
}

func buildOptions(opts []MatchOption) *matchOptions {
	o := &matchOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// nearest tracks the running minimum of a scan.
type nearest struct {
	key      string
	distance float64
	found    bool
	scanned  int
	skipped  int
}

func newNearest() nearest {
	return nearest{distance: math.Inf(1)}
}

// observe compares one candidate. Records without a vector, or with a vector of another
// length, are counted as skipped and never abort the scan.
func (n *nearest) observe(query []float32, c *models.Identity, logger *zap.Logger) {
	n.scanned++
	if c == nil || len(c.Embedding) == 0 {
		n.skipped++
		key := ""
		if c != nil {
			key = c.UserID
		}
		logger.Debug("skipping candidate without embedding", zap.String("user_id", key))
		return
	}
	d, err := Distance(query, c.Embedding)
	if err != nil {
		n.skipped++
		logger.Debug("skipping candidate", zap.String("user_id", c.UserID), zap.Error(err))
		return
	}
	// Strict less-than: the first candidate seen wins an exact tie.
	if d < n.distance {
		n.key = c.UserID
		n.distance = d
		n.found = true
	}
}

// merge folds a later partial result into n. Ties keep n's candidate.
func (n *nearest) merge(later nearest) {
	n.scanned += later.scanned
	n.skipped += later.skipped
	if later.found && later.distance < n.distance {
		n.key = later.key
		n.distance = later.distance
		n.found = true
	}
}

func (n *nearest) result(threshold float64) *models.MatchResult {
	r := &models.MatchResult{
		Distance:  n.distance,
		Threshold: threshold,
		Scanned:   n.scanned,
		Skipped:   n.skipped,
	}
	if n.found && n.distance < threshold {
		r.Matched = true
		r.IdentityKey = n.key
	}
	return r
}

// FindBestMatch scans candidates once, in the order the store yields them, and returns the
// closest identity when its distance is strictly below threshold. The closest distance is
// reported either way; it is +Inf when nothing comparable was scanned.
//
// When two candidates are exactly equally close the first one yielded wins. Stores do not
// promise a stable order, so which of two tied identities is returned may vary across calls.
//
// A stream error aborts the decision with a *StoreScanError.
func FindBestMatch(query []float32, candidates Candidates, threshold float64, opts ...MatchOption) (*models.MatchResult, error) {
	o := buildOptions(opts)
	best := newNearest()
	for c, err := range candidates {
		if err != nil {
			return nil, &StoreScanError{Scanned: best.scanned, Err: err}
		}
		best.observe(query, c, o.logger)
	}
	result := best.result(threshold)
	logScan(o.logger, result)
	return result, nil
}

func logScan(logger *zap.Logger, r *models.MatchResult) {
	logger.Debug("nearest identity scan",
		zap.Int("scanned", r.Scanned),
		zap.Int("skipped", r.Skipped),
		zap.Float64("closest_distance", r.Distance),
		zap.Float64("threshold", r.Threshold),
		zap.Bool("matched", r.Matched),
	)
}
