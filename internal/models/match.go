package models

import (
	"encoding/json"
	"math"
)

// Policy names the threshold a decision was taken under.
type Policy string

const (
	// PolicyVerify is used at login to find the identity behind a face.
	PolicyVerify Policy = "verify"
	// PolicyDuplicate is used at enrollment to reject a face that is already registered.
	PolicyDuplicate Policy = "duplicate"
)

// MatchResult is the outcome of one nearest-identity scan.
//
// Distance is the closest distance observed whether or not it matched. It is +Inf when no
// comparable candidate was scanned (empty store, or every record skipped).
type MatchResult struct {
	Matched     bool
	IdentityKey string
	Distance    float64
	Threshold   float64
	Scanned     int
	Skipped     int
}

// HasCandidate reports whether at least one candidate was actually compared.
func (r *MatchResult) HasCandidate() bool {
	return !math.IsInf(r.Distance, 1)
}

// DistanceOrNil returns the closest distance, or nil when nothing was compared.
// Used for JSON output where +Inf is not representable.
func (r *MatchResult) DistanceOrNil() *float64 {
	if !r.HasCandidate() {
		return nil
	}
	d := r.Distance
	return &d
}

type matchResultJSON struct {
	Matched     bool     `json:"matched"`
	IdentityKey string   `json:"identity_key,omitempty"`
	Distance    *float64 `json:"distance"`
	Threshold   float64  `json:"threshold"`
	Scanned     int      `json:"scanned"`
	Skipped     int      `json:"skipped"`
}

// MarshalJSON encodes the +Inf sentinel distance as null.
func (r MatchResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(matchResultJSON{
		Matched:     r.Matched,
		IdentityKey: r.IdentityKey,
		Distance:    r.DistanceOrNil(),
		Threshold:   r.Threshold,
		Scanned:     r.Scanned,
		Skipped:     r.Skipped,
	})
}

// UnmarshalJSON restores a null distance as +Inf.
func (r *MatchResult) UnmarshalJSON(data []byte) error {
	var aux matchResultJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = MatchResult{
		Matched:     aux.Matched,
		IdentityKey: aux.IdentityKey,
		Distance:    math.Inf(1),
		Threshold:   aux.Threshold,
		Scanned:     aux.Scanned,
		Skipped:     aux.Skipped,
	}
	if aux.Distance != nil {
		r.Distance = *aux.Distance
	}
	return nil
}
