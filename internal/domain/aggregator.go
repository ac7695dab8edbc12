package domain

// Aggregator combines the per-turn scores an evaluator produced during one
// simulation into a single overall score.
// Implementations provide different strategies such as arithmetic mean,
// maximum, or median.
type Aggregator interface {
	// Aggregate combines scores into one value in the same range.
	// The scores slice is in turn order and must not be empty.
	//
	// Implementations should return an error for:
	//   - an empty score list
	//   - NaN or infinite values
	//
	// Example:
	//
	//	overall, err := aggregator.Aggregate([]float64{0.8, 0.9, 0.7})
	Aggregate(scores []float64) (float64, error)

	// Name identifies the strategy in explanations and logs.
	Name() string
}
