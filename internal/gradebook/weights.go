package gradebook

import (
	"math"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// DefaultWeightTolerance is how far, in percentage points, a weight set may miss 100.
const DefaultWeightTolerance = 0.1

// WeightInput is a category weight expressed as a percentage.
type WeightInput struct {
	Category string
	Percent  float64
}

// ValidateWeights checks a weight configuration before it is stored. An empty
// set is valid and switches the course to unweighted aggregation.
func ValidateWeights(inputs []WeightInput, tolerance float64) error {
	if len(inputs) == 0 {
		return nil
	}
	if tolerance <= 0 {
		tolerance = DefaultWeightTolerance
	}

	verr := &models.ValidationError{}
	seen := map[string]bool{}
	var sum float64
	for i, input := range inputs {
		category := NormalizeCategory(input.Category)
		switch {
		case category == "":
			verr.Addf("weights", "entry %d has an empty category", i)
		case seen[category]:
			verr.Addf("weights", "category %q is listed more than once", category)
		}
		seen[category] = true
		if input.Percent < 0 || input.Percent > 100 {
			verr.Addf("weights", "category %q must be between 0 and 100 percent", category)
		}
		sum += input.Percent
	}

	if math.Abs(sum-100) > tolerance {
		verr.Addf("weights", "must sum to 100 percent, got %.2f", sum)
	}

	return verr.OrNil()
}

// ToCategoryWeights converts validated percentages into stored weight fractions.
func ToCategoryWeights(courseID uint, inputs []WeightInput) []models.CategoryWeight {
	out := make([]models.CategoryWeight, 0, len(inputs))
	for _, input := range inputs {
		out = append(out, models.CategoryWeight{
			CourseID: courseID,
			Category: NormalizeCategory(input.Category),
			Weight:   input.Percent / 100,
		})
	}
	return out
}
