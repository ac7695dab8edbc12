// Package evaluators provides the built-in evaluators: a prompted language
// model judge, a client for remote evaluation endpoints, and a
// deterministic reference matcher.
package evaluators

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/webis-de/GenIRSim/internal/domain"
)

var (
	_ domain.Aggregator = MeanAggregator{}
	_ domain.Aggregator = MaxAggregator{}
	_ domain.Aggregator = MedianAggregator{}
)

// Errors returned by aggregators.
var (
	// ErrNoScores is returned when no scores are provided for aggregation.
	ErrNoScores = errors.New("no scores provided for aggregation")

	// ErrInvalidScore is returned for NaN or infinite scores.
	ErrInvalidScore = errors.New("score is NaN or infinite")
)

// Aggregation strategy names.
const (
	AggregateMean   = "mean"
	AggregateMax    = "max"
	AggregateMedian = "median"
)

// MeanAggregator averages scores.
type MeanAggregator struct{}

// Name implements domain.Aggregator.
func (MeanAggregator) Name() string { return AggregateMean }

// Aggregate implements domain.Aggregator.
func (MeanAggregator) Aggregate(scores []float64) (float64, error) {
	if err := checkScores(scores); err != nil {
		return 0, err
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores)), nil
}

// MaxAggregator selects the highest score.
type MaxAggregator struct{}

// Name implements domain.Aggregator.
func (MaxAggregator) Name() string { return AggregateMax }

// Aggregate implements domain.Aggregator.
func (MaxAggregator) Aggregate(scores []float64) (float64, error) {
	if err := checkScores(scores); err != nil {
		return 0, err
	}
	return slices.Max(scores), nil
}

// MedianAggregator selects the middle score, or the mean of the two middle
// scores for an even count.
type MedianAggregator struct{}

// Name implements domain.Aggregator.
func (MedianAggregator) Name() string { return AggregateMedian }

// Aggregate implements domain.Aggregator. The input is not modified.
func (MedianAggregator) Aggregate(scores []float64) (float64, error) {
	if err := checkScores(scores); err != nil {
		return 0, err
	}
	sorted := slices.Clone(scores)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], nil
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, nil
}

// NewAggregator returns the aggregator registered under name.
// An empty name selects the mean.
func NewAggregator(name string) (domain.Aggregator, error) {
	switch name {
	case AggregateMean, "":
		return MeanAggregator{}, nil
	case AggregateMax:
		return MaxAggregator{}, nil
	case AggregateMedian:
		return MedianAggregator{}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation %q", name)
	}
}

func checkScores(scores []float64) error {
	if len(scores) == 0 {
		return ErrNoScores
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("score %d: %w", i, ErrInvalidScore)
		}
	}
	return nil
}
