package rates

import "math"

// ValidationCase pairs an expected rate with an allowed tolerance.
type ValidationCase struct {
	PriceUSDOz   float64
	ExpectedRate float64
	Tolerance    float64
}

// ValidationDetail reports a single sanity check outcome.
type ValidationDetail struct {
	Name         string  `json:"name"`
	ExpectedRate float64 `json:"expected_rate"`
	ActualRate   float64 `json:"actual_rate"`
	Error        float64 `json:"error"`
	Tolerance    float64 `json:"tolerance"`
	Passed       bool    `json:"passed"`
}

// ValidationReport summarises a validation battery run.
type ValidationReport struct {
	TotalTests int                `json:"total_tests"`
	Passed     int                `json:"passed"`
	Failed     int                `json:"failed"`
	Details    []ValidationDetail `json:"details"`
}

// ValidateConversion runs the rate sanity battery. Each case is checked
// against the fixed fallback constant, not the live fetched rate; the
// upstream behaviour is preserved verbatim.
func ValidateConversion(cases map[string]ValidationCase) ValidationReport {
	report := ValidationReport{
		TotalTests: len(cases),
		Details:    make([]ValidationDetail, 0, len(cases)),
	}

	for name, tc := range cases {
		actual := FallbackRate
		diff := math.Abs(actual - tc.ExpectedRate)
		passed := diff <= tc.Tolerance

		report.Details = append(report.Details, ValidationDetail{
			Name:         name,
			ExpectedRate: tc.ExpectedRate,
			ActualRate:   actual,
			Error:        diff,
			Tolerance:    tc.Tolerance,
			Passed:       passed,
		})

		if passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	return report
}

// DefaultValidationCases is the fixed battery exposed by the validation API.
func DefaultValidationCases() map[string]ValidationCase {
	return map[string]ValidationCase{
		"test_1": {PriceUSDOz: 2000.0, ExpectedRate: 7.2, Tolerance: 1.0},
		"test_2": {PriceUSDOz: 1950.0, ExpectedRate: 7.3, Tolerance: 1.0},
		"test_3": {PriceUSDOz: 2050.0, ExpectedRate: 7.1, Tolerance: 1.0},
		"test_4": {PriceUSDOz: 1900.0, ExpectedRate: 7.25, Tolerance: 1.0},
		"test_5": {PriceUSDOz: 2100.0, ExpectedRate: 7.15, Tolerance: 1.0},
	}
}
