package llm

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"time"
)

// Accepted ranges of the sampling options a plugin may put into its "llm"
// object. Values outside a range are clamped by the providers.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0 // Gemini accepts up to 2.
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinPenalty     = -2.0
	MaxPenalty     = 2.0

	MinTimeout = time.Second
	MaxTimeout = 10 * time.Minute
)

// IsValidTemperature reports whether val lies in [MinTemperature, MaxTemperature].
func IsValidTemperature(val float64) bool { return val >= MinTemperature && val <= MaxTemperature }

// IsValidTopP reports whether val lies in [MinTopP, MaxTopP].
func IsValidTopP(val float64) bool { return val >= MinTopP && val <= MaxTopP }

func IsPositiveInt(val int) bool { return val > 0 }

func IsNonEmptyString(val string) bool { return val != "" }

// Clamp limits val to [lo, hi].
func Clamp[T cmp.Ordered](val, lo, hi T) T { return min(max(val, lo), hi) }

// ValidateBaseURL normalizes an endpoint override from the "llm.url"
// field. The empty string selects the provider default and is returned
// unchanged.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", baseURL, err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return "", fmt.Errorf("URL %q must use http or https", baseURL)
	case u.Host == "":
		return "", fmt.Errorf("URL %q has no host", baseURL)
	}
	return u.String(), nil
}

// ValidateTimeout clamps a configured request timeout to
// [MinTimeout, MaxTimeout]. Zero and negative values mean the provider
// default and yield 0.
func ValidateTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	return Clamp(timeout, MinTimeout, MaxTimeout)
}

// SafeFloat32 converts a decoded configuration number to float32. Values
// that do not fit fail.
func SafeFloat32(value any) (float32, bool) {
	f, ok := toFloat64(value)
	if !ok || math.IsNaN(f) || math.Abs(f) > math.MaxFloat32 {
		return 0, false
	}
	return float32(f), true
}

// SafeInt converts a decoded configuration number to int, truncating
// fractions. JSON yields float64 and YAML yields int, so both are accepted.
func SafeInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		if int64(int(v)) != v {
			return 0, false
		}
		return int(v), true
	}
	f, ok := toFloat64(value)
	if !ok || math.IsNaN(f) || f > math.MaxInt || f < math.MinInt {
		return 0, false
	}
	return int(f), true
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
