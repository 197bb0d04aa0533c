// Package consensus decides whether replicated results agree closely enough
// to be trusted.
package consensus

import (
	"math"

	"github.com/zerverless/coordinator/internal/job"
)

const (
	DefaultPairThreshold = 0.8
	DefaultJobThreshold  = 0.7
)

type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
)

type Pair struct {
	A, B       string // contributor ids
	Similarity float64
	Passed     bool
}

type Decision struct {
	Verdict      Verdict
	Rate         float64
	PassedPairs  int
	TotalPairs   int
	Pairs        []Pair
	Contributors []string
}

type Verifier struct {
	PairThreshold float64
	JobThreshold  float64
}

func NewVerifier(pairThreshold, jobThreshold float64) *Verifier {
	return &Verifier{PairThreshold: pairThreshold, JobThreshold: jobThreshold}
}

// FieldScore is 1 inside the tolerance, falls off linearly to 0 over one more
// tolerance unit, and is 0 beyond that.
func FieldScore(a, b, tolerance float64) float64 {
	if !finite(a) || !finite(b) || tolerance <= 0 {
		return 0
	}
	d := math.Abs(a - b)
	if d <= tolerance {
		return 1
	}
	return math.Max(0, 1-(d-tolerance)/tolerance)
}

// Similarity averages the field scores over every envelope field. A field
// missing from either payload counts as a disagreement.
func Similarity(env job.Envelope, a, b map[string]float64) float64 {
	if len(env) == 0 {
		return 0
	}
	var sum float64
	for _, f := range env {
		va, okA := a[f.Name]
		vb, okB := b[f.Name]
		if !okA || !okB {
			continue
		}
		sum += FieldScore(va, vb, f.Tolerance)
	}
	return sum / float64(len(env))
}

// Evaluate compares every pair of results. A single result has no pair to
// check and is accepted as is; that mode gives no cross-check at all.
func (v *Verifier) Evaluate(env job.Envelope, results []job.Result) Decision {
	d := Decision{Contributors: make([]string, 0, len(results))}
	for _, r := range results {
		d.Contributors = append(d.Contributors, r.ContributorID)
	}

	for i := 0; i < len(results); i++ {
		for k := i + 1; k < len(results); k++ {
			sim := Similarity(env, results[i].Payload, results[k].Payload)
			p := Pair{
				A:          results[i].ContributorID,
				B:          results[k].ContributorID,
				Similarity: sim,
				Passed:     sim >= v.PairThreshold,
			}
			if p.Passed {
				d.PassedPairs++
			}
			d.TotalPairs++
			d.Pairs = append(d.Pairs, p)
		}
	}

	switch {
	case len(results) == 0:
		d.Rate = 0
	case d.TotalPairs == 0:
		d.Rate = 1
	default:
		d.Rate = float64(d.PassedPairs) / float64(d.TotalPairs)
	}

	d.Verdict = VerdictReject
	if len(results) > 0 && d.Rate >= v.JobThreshold {
		d.Verdict = VerdictAccept
	}
	return d
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
