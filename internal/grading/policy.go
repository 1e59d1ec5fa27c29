// Package grading holds the pure computation at the heart of the results
// engine: turning raw score components into a graded outcome, and turning
// ordered scores into competition-ranked positions. Nothing in this package
// performs I/O.
package grading

import (
	"fmt"
	"math"

	"github.com/riseschools/results-api/internal/models"
)

// Inputs carries the raw components of one score submission. A nil component
// counts as zero toward the total. Components outside the age section's set
// (e.g. ca for a Nursery pupil) are ignored.
type Inputs struct {
	CA         *float64
	Test1      *float64
	Test2      *float64
	Exam       *float64
	Test       *float64
	Homework   *float64
	Classwork  *float64
	TotalMarks *float64
}

// Outcome is the derived result of grading one set of inputs. GradePoint is
// nil for sections that do not award grade points.
type Outcome struct {
	TotalScore  float64
	Grade       string
	GradePoint  *float64
	Description string
}

// RangeError reports a component outside its allowed range. Components are
// rejected, never clamped.
type RangeError struct {
	Field string
	Value float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s must be between 0 and %g, got %g", e.Field, e.Max, e.Value)
}

// component ties a submitted value to its field name and upper bound.
type component struct {
	field string
	value *float64
	max   float64
}

// components returns the section's component set in presentation order.
func components(section models.AgeSection, in Inputs) []component {
	switch section {
	case models.SectionNursery:
		return []component{{"total_marks", in.TotalMarks, 100}}
	case models.SectionPrimary:
		return []component{
			{"test", in.Test, 20},
			{"homework", in.Homework, 10},
			{"classwork", in.Classwork, 10},
			{"exam", in.Exam, 60},
		}
	case models.SectionJunior, models.SectionSenior:
		return []component{
			{"ca", in.CA, 10},
			{"test_1", in.Test1, 10},
			{"test_2", in.Test2, 10},
			{"exam", in.Exam, 70},
		}
	}
	return nil
}

// Validate checks every applicable component against its range. It returns a
// *RangeError naming the first offending field, or nil.
func Validate(section models.AgeSection, in Inputs) error {
	for _, c := range components(section, in) {
		if c.value == nil {
			continue
		}
		if *c.value < 0 || *c.value > c.max {
			return &RangeError{Field: c.field, Value: *c.value, Max: c.max}
		}
	}
	return nil
}

type band struct {
	min         float64
	grade       string
	point       float64
	description string
}

// Band tables per age section, highest threshold first; the final band is the
// catch-all. Nursery and Primary share one table and award no grade points.
var (
	nurseryPrimaryBands = []band{
		{95, "A+", 0, "Distinction"},
		{90, "A", 0, "Excellent"},
		{85, "B+", 0, "Very Good"},
		{80, "B", 0, "Good"},
		{70, "C+", 0, "Credit"},
		{65, "C", 0, "Average"},
		{60, "D", 0, "Fair"},
		{50, "E", 0, "Pass"},
		{0, "F9", 0, "Fail"},
	}
	juniorBands = []band{
		{90, "A+", 4.0, "Distinction"},
		{80, "A", 3.5, "Excellent"},
		{70, "B", 3.0, "Good"},
		{60, "C", 2.5, "Above Average"},
		{50, "D", 2.0, "Average"},
		{40, "E", 1.5, "Average"},
		{0, "F", 1.0, "Poor"},
	}
	seniorBands = []band{
		{90, "A1", 5.0, "Distinction"},
		{85, "B2", 4.5, "Excellent"},
		{80, "B3", 4.0, "Very Good"},
		{70, "C4", 3.5, "Good"},
		{60, "C5", 3.0, "Above Avg."},
		{50, "C6", 2.5, "Average"},
		{45, "D7", 2.0, "Below Avg."},
		{40, "E8", 1.5, "Fair"},
		{0, "F9", 1.0, "Fail"},
	}
)

func bandsFor(section models.AgeSection) (bands []band, usesPoints bool) {
	switch section {
	case models.SectionNursery, models.SectionPrimary:
		return nurseryPrimaryBands, false
	case models.SectionJunior:
		return juniorBands, true
	case models.SectionSenior:
		return seniorBands, true
	}
	return nil, false
}

// Evaluate validates the inputs and computes the graded outcome for the given
// age section. The computation is deterministic and side-effect free.
func Evaluate(section models.AgeSection, in Inputs) (Outcome, error) {
	if !section.Valid() {
		return Outcome{}, fmt.Errorf("unknown age section %q", section)
	}
	if err := Validate(section, in); err != nil {
		return Outcome{}, err
	}

	var total float64
	for _, c := range components(section, in) {
		if c.value != nil {
			total += *c.value
		}
	}

	bands, usesPoints := bandsFor(section)
	for _, b := range bands {
		if total >= b.min {
			out := Outcome{TotalScore: total, Grade: b.grade, Description: b.description}
			if usesPoints {
				p := b.point
				out.GradePoint = &p
			}
			return out, nil
		}
	}
	// Unreachable: validated components are non-negative and the catch-all
	// band starts at zero.
	return Outcome{}, fmt.Errorf("no grade band for total %g", total)
}

// Round2 rounds to two decimal places using banker's rounding, the same
// convention score averages are compared under.
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
