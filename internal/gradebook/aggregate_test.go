package gradebook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

func item(category string, score, possible float64, released bool) models.GradedItem {
	return models.GradedItem{Category: category, Score: &score, PointsPossible: possible, Released: released}
}

func weights(pairs map[string]float64) []models.CategoryWeight {
	out := make([]models.CategoryWeight, 0, len(pairs))
	for category, weight := range pairs {
		out = append(out, models.CategoryWeight{CourseID: 1, Category: category, Weight: weight})
	}
	return out
}

func TestAggregateWeighted(t *testing.T) {
	items := []models.GradedItem{
		item("homework", 18, 20, true),
		item("exam", 40, 50, true),
	}

	got := Aggregate(items, weights(map[string]float64{"homework": 0.3, "exam": 0.7}), PolicyRenormalize)
	require.True(t, got.Weighted)
	require.NotNil(t, got.OverallPercent)
	require.InDelta(t, 83.0, *got.OverallPercent, 1e-9)
	require.Equal(t, 90.0, got.ByCategory["homework"])
	require.Equal(t, 80.0, got.ByCategory["exam"])
}

func TestAggregateRenormalizesOverCategoriesWithData(t *testing.T) {
	items := []models.GradedItem{item("homework", 18, 20, true)}

	got := Aggregate(items, weights(map[string]float64{"homework": 0.3, "exam": 0.7}), PolicyRenormalize)
	require.NotNil(t, got.OverallPercent)
	require.InDelta(t, 90.0, *got.OverallPercent, 1e-9)
	_, hasExam := got.ByCategory["exam"]
	require.False(t, hasExam)
}

func TestAggregateStrictPolicyKeepsFullWeight(t *testing.T) {
	items := []models.GradedItem{item("homework", 18, 20, true)}

	got := Aggregate(items, weights(map[string]float64{"homework": 0.3, "exam": 0.7}), PolicyStrict)
	require.NotNil(t, got.OverallPercent)
	require.InDelta(t, 27.0, *got.OverallPercent, 1e-9)
}

func TestAggregateExcludesUnreleasedAndUngraded(t *testing.T) {
	ungraded := models.GradedItem{Category: "homework", PointsPossible: 100, Released: true}
	items := []models.GradedItem{
		item("homework", 10, 10, true),
		item("homework", 0, 90, false),
		ungraded,
	}

	got := Aggregate(items, nil, PolicyRenormalize)
	require.False(t, got.Weighted)
	require.NotNil(t, got.OverallPercent)
	require.Equal(t, 100.0, *got.OverallPercent)
}

func TestAggregateUnweightedRawPoints(t *testing.T) {
	items := []models.GradedItem{
		item("homework", 18, 20, true),
		item("exam", 40, 50, true),
	}

	got := Aggregate(items, nil, PolicyRenormalize)
	require.NotNil(t, got.OverallPercent)
	// 58 / 70
	require.Equal(t, 82.86, *got.OverallPercent)
}

func TestAggregateWithoutDataIsNull(t *testing.T) {
	require.Nil(t, Aggregate(nil, nil, PolicyRenormalize).OverallPercent)
	require.Nil(t, Aggregate(nil, weights(map[string]float64{"exam": 1}), PolicyRenormalize).OverallPercent)

	zeroPossible := []models.GradedItem{item("exam", 0, 0, true)}
	got := Aggregate(zeroPossible, weights(map[string]float64{"exam": 1}), PolicyRenormalize)
	require.Nil(t, got.OverallPercent)
	require.Empty(t, got.ByCategory)
}

func TestAggregateMatchesCategoriesCaseInsensitively(t *testing.T) {
	items := []models.GradedItem{item(" Homework ", 9, 10, true)}
	got := Aggregate(items, weights(map[string]float64{"homework": 1}), PolicyRenormalize)
	require.NotNil(t, got.OverallPercent)
	require.Equal(t, 90.0, *got.OverallPercent)
}

func TestAggregateIgnoresUnweightedCategoryInWeightedMode(t *testing.T) {
	items := []models.GradedItem{
		item("homework", 5, 10, true),
		item("participation", 10, 10, true),
	}
	got := Aggregate(items, weights(map[string]float64{"homework": 1}), PolicyRenormalize)
	require.Equal(t, 50.0, *got.OverallPercent)
	require.Equal(t, 100.0, got.ByCategory["participation"])
}

func TestParsePolicy(t *testing.T) {
	policy, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyRenormalize, policy)

	policy, err = ParsePolicy("STRICT")
	require.NoError(t, err)
	require.Equal(t, PolicyStrict, policy)

	_, err = ParsePolicy("zero")
	require.Error(t, err)
}
