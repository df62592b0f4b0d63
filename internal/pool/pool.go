// Package pool selects and orders the questions served to a single attempt.
package pool

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// ErrPoolTooLarge is returned when the pool size exceeds the bank.
var ErrPoolTooLarge = fmt.Errorf("pool size exceeds question bank size")

// NewRand derives the attempt's random source from its stored seed so a
// selection can be reproduced for audits.
func NewRand(seed int64, attemptNumber int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(attemptNumber)))
}

// Validate checks the pooling configuration against the bank size.
func Validate(bankSize int, poolEnabled bool, poolSize int) error {
	if !poolEnabled {
		return nil
	}
	if poolSize < 1 {
		return fmt.Errorf("pool size must be at least 1")
	}
	if poolSize > bankSize {
		return fmt.Errorf("%w: %d > %d", ErrPoolTooLarge, poolSize, bankSize)
	}
	return nil
}

// Select returns the ordered question subset for one attempt. The result is
// a deep snapshot of the bank entries.
//
// Without pooling the bank order is kept unless randomize is set, in which
// case a uniform permutation is returned. With pooling, poolSize questions are
// drawn uniformly without replacement; their bank order is kept unless
// randomize is set. Callers validate poolSize at definition time; an
// oversized pool is clamped to the bank.
func Select(questions []models.Question, poolEnabled bool, poolSize int, randomize bool, rng *rand.Rand) []models.Question {
	n := len(questions)
	if n == 0 {
		return []models.Question{}
	}

	k := n
	if poolEnabled {
		k = poolSize
		if k > n {
			k = n
		}
		if k < 0 {
			k = 0
		}
	}

	if !poolEnabled && !randomize {
		return models.SnapshotQuestions(questions)
	}

	indices := drawIndices(n, k, rng)
	if !randomize {
		sort.Ints(indices)
	}

	out := make([]models.Question, 0, k)
	for _, idx := range indices {
		out = append(out, questions[idx].Snapshot())
	}
	return out
}

// drawIndices runs the first k steps of a Fisher-Yates shuffle, yielding a
// uniformly random k-permutation of [0, n).
func drawIndices(n, k int, rng *rand.Rand) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		indices[i], indices[j] = indices[j], indices[i]
	}
	return indices[:k]
}

// PointsPossible sums the points of a concrete selection.
func PointsPossible(selection []models.Question) float64 {
	var total float64
	for _, question := range selection {
		total += question.Points
	}
	return total
}

// ExpectedPoints is the point total shown before an attempt exists. For
// pooled assessments it is the mean bank points scaled by the pool size,
// rounded to one decimal, since the real total varies by draw.
func ExpectedPoints(questions []models.Question, poolEnabled bool, poolSize int) float64 {
	total := PointsPossible(questions)
	if !poolEnabled || len(questions) == 0 {
		return total
	}
	mean := total / float64(len(questions))
	return math.Round(mean*float64(poolSize)*10) / 10
}
