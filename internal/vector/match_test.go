package vector

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/models"
)

func identity(key string, v ...float32) *models.Identity {
	return &models.Identity{UserID: key, Embedding: v}
}

func mustMatch(t *testing.T, query []float32, cands []*models.Identity, threshold float64, opts ...MatchOption) *models.MatchResult {
	t.Helper()
	r, err := FindBestMatch(query, FromSlice(cands), threshold, opts...)
	if err != nil {
		t.Fatalf("FindBestMatch: %v", err)
	}
	return r
}

func TestFindBestMatch_Empty(t *testing.T) {
	for _, threshold := range []float64{0, 0.1, 1, math.Inf(1)} {
		r := mustMatch(t, []float32{1, 0}, nil, threshold)
		if r.Matched || r.IdentityKey != "" || !math.IsInf(r.Distance, 1) || r.Scanned != 0 {
			t.Errorf("threshold %v: got %+v", threshold, r)
		}
	}
}

func TestFindBestMatch_SingleExactMatch(t *testing.T) {
	q := []float32{0.1, 0.2, 0.3}
	r := mustMatch(t, q, []*models.Identity{identity("u1", q...)}, 0.1)
	if !r.Matched || r.IdentityKey != "u1" || r.Distance != 0 || r.Scanned != 1 {
		t.Errorf("got %+v", r)
	}
}

func TestFindBestMatch_Threshold(t *testing.T) {
	q := []float32{0, 0}
	cands := []*models.Identity{identity("u1", 0.5, 0)}

	tests := []struct {
		name      string
		threshold float64
		matched   bool
	}{
		{"above distance", 0.55, true},
		{"below distance", 0.4, false},
		{"equal to distance", 0.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustMatch(t, q, cands, tt.threshold)
			if r.Matched != tt.matched {
				t.Errorf("Matched = %v, want %v", r.Matched, tt.matched)
			}
			wantKey := ""
			if tt.matched {
				wantKey = "u1"
			}
			if r.IdentityKey != wantKey {
				t.Errorf("IdentityKey = %q, want %q", r.IdentityKey, wantKey)
			}
			// the closest distance is reported on a miss too
			if math.Abs(r.Distance-0.5) > 1e-9 {
				t.Errorf("Distance = %v, want 0.5", r.Distance)
			}
		})
	}
}

func TestFindBestMatch_MinimumSelectionAnyOrder(t *testing.T) {
	q := []float32{0}
	base := []*models.Identity{
		identity("far", 0.9),
		identity("near", 0.3),
		identity("mid", 0.7),
	}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, order := range orders {
		cands := make([]*models.Identity, 0, len(order))
		for _, i := range order {
			cands = append(cands, base[i])
		}
		r := mustMatch(t, q, cands, 1.0)
		if !r.Matched || r.IdentityKey != "near" || math.Abs(r.Distance-0.3) > 1e-6 {
			t.Errorf("order %v: got %+v", order, r)
		}
	}
}

func TestFindBestMatch_SkipsMalformed(t *testing.T) {
	q := []float32{0, 0}
	cands := []*models.Identity{
		identity("missing"),
		identity("short", 0),
		nil,
		identity("long", 0, 0, 0),
		identity("valid-far", 0.8, 0),
		identity("valid-near", 0.2, 0),
	}
	r := mustMatch(t, q, cands, 0.5, WithLogger(zap.NewNop()))
	if !r.Matched || r.IdentityKey != "valid-near" {
		t.Errorf("got %+v", r)
	}
	if r.Scanned != 6 || r.Skipped != 4 {
		t.Errorf("scanned/skipped = %d/%d, want 6/4", r.Scanned, r.Skipped)
	}
}

func TestFindBestMatch_AllSkipped(t *testing.T) {
	cands := []*models.Identity{identity("a"), identity("b", 1, 2, 3)}
	r := mustMatch(t, []float32{1}, cands, 10)
	if r.Matched || !math.IsInf(r.Distance, 1) || r.Skipped != 2 {
		t.Errorf("got %+v", r)
	}
}

func TestFindBestMatch_TieFirstSeenWins(t *testing.T) {
	q := []float32{0, 0}
	cands := []*models.Identity{
		identity("first", 0.3, 0),
		identity("second", 0, 0.3),
	}
	if r := mustMatch(t, q, cands, 1); r.IdentityKey != "first" {
		t.Errorf("IdentityKey = %q, want first", r.IdentityKey)
	}
	cands[0], cands[1] = cands[1], cands[0]
	if r := mustMatch(t, q, cands, 1); r.IdentityKey != "second" {
		t.Errorf("swapped: IdentityKey = %q, want second", r.IdentityKey)
	}
}

func TestFindBestMatch_StoreFailureAborts(t *testing.T) {
	boom := errors.New("cursor died")
	stream := func(yield func(*models.Identity, error) bool) {
		if !yield(identity("u1", 0), nil) {
			return
		}
		yield(nil, boom)
	}
	r, err := FindBestMatch([]float32{0}, stream, 1)
	if r != nil {
		t.Errorf("expected nil result, got %+v", r)
	}
	if !errors.Is(err, ErrStoreScan) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrStoreScan wrapping cause, got %v", err)
	}
	var se *StoreScanError
	if !errors.As(err, &se) || se.Scanned != 1 {
		t.Errorf("StoreScanError = %+v, want Scanned 1", se)
	}
}

func TestFindBestMatch_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := randomVector(rng, 16)
	cands := make([]*models.Identity, 20)
	for i := range cands {
		cands[i] = &models.Identity{UserID: string(rune('a' + i)), Embedding: randomVector(rng, 16)}
	}
	matchedBefore := false
	for threshold := 0.0; threshold < 6; threshold += 0.05 {
		r := mustMatch(t, q, cands, threshold)
		if matchedBefore && !r.Matched {
			t.Errorf("raising the threshold to %v lost a match", threshold)
		}
		matchedBefore = r.Matched
	}
	if !matchedBefore {
		t.Error("no threshold produced a match")
	}
}

func TestMatcher_SequentialEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	q := randomVector(rng, 32)
	cands := make([]*models.Identity, 1000)
	for i := range cands {
		cands[i] = &models.Identity{UserID: string(rune(0x4e00 + i)), Embedding: randomVector(rng, 32)}
	}
	cands[17].Embedding = nil
	cands[400].Embedding = randomVector(rng, 8)

	want := mustMatch(t, q, cands, 3)
	for _, workers := range []int{0, 1, 2, 4, 8} {
		m := Matcher{Workers: workers, ChunkSize: 37}
		got, err := m.Match(context.Background(), q, FromSlice(cands), 3)
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		if !reflect.DeepEqual(want, got) {
			t.Errorf("workers=%d: got %+v, want %+v", workers, got, want)
		}
	}
}

func TestMatcher_TieAcrossChunks(t *testing.T) {
	q := []float32{0, 0}
	cands := []*models.Identity{
		identity("x", 1, 0),
		identity("first", 0.3, 0),
		identity("y", 1, 0),
		identity("second", 0, 0.3),
	}
	m := Matcher{Workers: 4, ChunkSize: 1}
	r, err := m.Match(context.Background(), q, FromSlice(cands), 1)
	if err != nil {
		t.Fatal(err)
	}
	if r.IdentityKey != "first" {
		t.Errorf("IdentityKey = %q, want first", r.IdentityKey)
	}
}

func TestMatcher_StoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	stream := func(yield func(*models.Identity, error) bool) {
		for i := 0; i < 10; i++ {
			if !yield(identity("u", float32(i)), nil) {
				return
			}
		}
		yield(nil, boom)
	}
	for _, workers := range []int{1, 3} {
		m := Matcher{Workers: workers, ChunkSize: 4}
		r, err := m.Match(context.Background(), []float32{0}, stream, 100)
		if r != nil {
			t.Errorf("workers=%d: expected nil result", workers)
		}
		if !errors.Is(err, ErrStoreScan) || !errors.Is(err, boom) {
			t.Errorf("workers=%d: expected ErrStoreScan wrapping cause, got %v", workers, err)
		}
	}
}

func TestMatcher_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cands := []*models.Identity{identity("a", 0)}
	for _, workers := range []int{0, 1, 2} {
		m := Matcher{Workers: workers}
		r, err := m.Match(ctx, []float32{0}, FromSlice(cands), 1)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("workers=%d: expected context.Canceled, got %v (result %+v)", workers, err, r)
		}
	}
}
