package vector

import (
	"context"
	"sync"

	"github.com/hyperjump/facegate/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of candidates handed to one worker at a time.
const DefaultChunkSize = 256

// Matcher runs FindBestMatch, optionally sharding the stream across workers.
// The zero value scans sequentially.
type Matcher struct {
	// Workers is the number of concurrent chunk scans. Values <= 1 scan inline.
	Workers int
	// ChunkSize is the number of candidates per chunk; DefaultChunkSize when <= 0.
	ChunkSize int
}

// Match returns the same result as FindBestMatch for the same stream, including tie-breaking:
// chunks are numbered in stream order and partial minima are merged in that order, so the
// first-yielded candidate still wins an exact tie.
//
// The stream is read once, by the calling goroutine. ctx cancellation stops reading and
// returns ctx.Err().
func (m Matcher) Match(ctx context.Context, query []float32, candidates Candidates, threshold float64, opts ...MatchOption) (*models.MatchResult, error) {
	o := buildOptions(opts)
	if m.Workers <= 1 {
		return matchInline(ctx, query, candidates, threshold, o)
	}
	chunkSize := m.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var (
		mu       sync.Mutex
		partials = make(map[int]nearest)
		g        errgroup.Group
		seq      int
		read     int
		scanErr  error
	)
	g.SetLimit(m.Workers)

	dispatch := func(chunk []*models.Identity) {
		n := seq
		seq++
		g.Go(func() error {
			part := newNearest()
			for _, c := range chunk {
				part.observe(query, c, o.logger)
			}
			mu.Lock()
			partials[n] = part
			mu.Unlock()
			return nil
		})
	}

	chunk := make([]*models.Identity, 0, chunkSize)
	for c, err := range candidates {
		if err != nil {
			scanErr = &StoreScanError{Scanned: read, Err: err}
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			scanErr = ctxErr
			break
		}
		read++
		chunk = append(chunk, c)
		if len(chunk) == chunkSize {
			dispatch(chunk)
			chunk = make([]*models.Identity, 0, chunkSize)
		}
	}
	if scanErr == nil && len(chunk) > 0 {
		dispatch(chunk)
	}
	_ = g.Wait()
	if scanErr != nil {
		return nil, scanErr
	}

	best := newNearest()
	for i := 0; i < seq; i++ {
		best.merge(partials[i])
	}
	result := best.result(threshold)
	logScan(o.logger, result)
	return result, nil
}

func matchInline(ctx context.Context, query []float32, candidates Candidates, threshold float64, o *matchOptions) (*models.MatchResult, error) {
	best := newNearest()
	for c, err := range candidates {
		if err != nil {
			return nil, &StoreScanError{Scanned: best.scanned, Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		best.observe(query, c, o.logger)
	}
	result := best.result(threshold)
	logScan(o.logger, result)
	return result, nil
}
