package evaluators

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	MinScoreValue = -1000.0
	MaxScoreValue = 1000.0
	MinScoreRange = 0.01
)

var scalePattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*-\s*(-?\d+(?:\.\d+)?)\s*$`)

// ScoreScale is the range a judge model is asked to score in, such as
// 1-10. PromptedEvaluator maps scores on it onto [0,1].
type ScoreScale struct {
	Min float64
	Max float64
}

// ParseScoreScale parses "min-max". Both ends may be negative decimals, so
// "-10--2" is the scale from -10 to -2.
func ParseScoreScale(s string) (ScoreScale, error) {
	m := scalePattern.FindStringSubmatch(s)
	if m == nil {
		return ScoreScale{}, fmt.Errorf("score scale %q is not of the form min-max", s)
	}
	// The pattern only admits valid decimals.
	lo, _ := strconv.ParseFloat(m[1], 64)
	hi, _ := strconv.ParseFloat(m[2], 64)
	scale := ScoreScale{Min: lo, Max: hi}

	switch {
	case lo < MinScoreValue || hi > MaxScoreValue:
		return ScoreScale{}, fmt.Errorf("score scale %s exceeds %g-%g", scale, MinScoreValue, MaxScoreValue)
	case hi-lo < MinScoreRange:
		return ScoreScale{}, fmt.Errorf("score scale %s is empty or narrower than %g", scale, MinScoreRange)
	}
	return scale, nil
}

func (s ScoreScale) Contains(score float64) bool {
	return s.Min <= score && score <= s.Max
}

// Normalize maps a score on the scale onto [0,1].
func (s ScoreScale) Normalize(score float64) (float64, error) {
	if !s.Contains(score) {
		return 0, fmt.Errorf("score %g outside scale %s", score, s)
	}
	return (score - s.Min) / (s.Max - s.Min), nil
}

func (s ScoreScale) String() string {
	return strconv.FormatFloat(s.Min, 'f', -1, 64) + "-" + strconv.FormatFloat(s.Max, 'f', -1, 64)
}
