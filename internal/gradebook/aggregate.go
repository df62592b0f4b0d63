// Package gradebook rolls released grades up into per-category and overall percentages.
package gradebook

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// Policy decides how categories without released grades affect the weighted total.
type Policy string

const (
	// PolicyRenormalize spreads weight over only the categories that have data.
	PolicyRenormalize Policy = "renormalize"
	// PolicyStrict divides by the full configured weight, so empty categories pull the total down.
	PolicyStrict Policy = "strict"
)

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyRenormalize:
		return PolicyRenormalize, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown gradebook weight policy %q", value)
	}
}

// CategorySummary is the roll-up of one category.
type CategorySummary struct {
	Category       string   `json:"category"`
	Score          float64  `json:"score"`
	PointsPossible float64  `json:"points_possible"`
	Percent        *float64 `json:"percent"`
	Weight         *float64 `json:"weight,omitempty"`
	Items          int      `json:"items"`
}

// Summary is the aggregated gradebook view for one student in one course.
type Summary struct {
	OverallPercent *float64           `json:"overall_percent"`
	ByCategory     map[string]float64 `json:"by_category"`
	Categories     []CategorySummary  `json:"categories"`
	Weighted       bool               `json:"weighted"`
	Policy         Policy             `json:"policy,omitempty"`
}

type bucket struct {
	score    float64
	possible float64
	items    int
}

// NormalizeCategory canonicalises a category name for matching items to weights.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// Aggregate derives the gradebook summary from the current items and weights.
// Only released, scored items participate; anything else is left out of both
// numerator and denominator. With no weights, raw points are summed. With
// weights, each category's percentage is weighted and the policy decides how
// categories without data are treated. A nil OverallPercent means no data.
func Aggregate(items []models.GradedItem, weights []models.CategoryWeight, policy Policy) Summary {
	buckets := map[string]*bucket{}
	var totalScore, totalPossible float64

	for _, item := range items {
		if !item.Participates() {
			continue
		}
		category := NormalizeCategory(item.Category)
		b, ok := buckets[category]
		if !ok {
			b = &bucket{}
			buckets[category] = b
		}
		b.score += *item.Score
		b.possible += item.PointsPossible
		b.items++
		totalScore += *item.Score
		totalPossible += item.PointsPossible
	}

	weightByCategory := map[string]float64{}
	for _, w := range weights {
		weightByCategory[NormalizeCategory(w.Category)] += w.Weight
	}

	summary := Summary{
		ByCategory: map[string]float64{},
		Categories: make([]CategorySummary, 0, len(buckets)+len(weightByCategory)),
		Weighted:   len(weightByCategory) > 0,
	}

	names := make([]string, 0, len(buckets)+len(weightByCategory))
	seen := map[string]bool{}
	for name := range buckets {
		names = append(names, name)
		seen[name] = true
	}
	for name := range weightByCategory {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var weightedSum, weightWithData, weightTotal float64
	for _, name := range names {
		cs := CategorySummary{Category: name}
		if w, ok := weightByCategory[name]; ok {
			weight := w
			cs.Weight = &weight
			weightTotal += w
		}

		if b, ok := buckets[name]; ok {
			cs.Score = round2(b.score)
			cs.PointsPossible = round2(b.possible)
			cs.Items = b.items
			if b.possible > 0 {
				percent := 100 * b.score / b.possible
				rounded := round2(percent)
				cs.Percent = &rounded
				summary.ByCategory[name] = rounded
				if cs.Weight != nil {
					weightedSum += percent * *cs.Weight
					weightWithData += *cs.Weight
				}
			}
		}

		summary.Categories = append(summary.Categories, cs)
	}

	if !summary.Weighted {
		if totalPossible > 0 {
			overall := round2(100 * totalScore / totalPossible)
			summary.OverallPercent = &overall
		}
		return summary
	}

	if policy == "" {
		policy = PolicyRenormalize
	}
	summary.Policy = policy

	denominator := weightWithData
	if policy == PolicyStrict {
		denominator = weightTotal
	}
	if weightWithData > 0 && denominator > 0 {
		overall := round2(weightedSum / denominator)
		summary.OverallPercent = &overall
	}

	return summary
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
