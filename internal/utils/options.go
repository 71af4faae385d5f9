package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Options is the already-resolved option mapping consumed by the engine.
// Keys follow the names used on the command line (continuedl, ratelimit, ...).
type Options map[string]any

func (o Options) Has(key string) bool {
	v, ok := o[key]
	return ok && v != nil
}

// Bool returns the option as a bool, or def when absent or not boolean.
func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// OptBool distinguishes an absent option from an explicit false.
func (o Options) OptBool(key string) (value, set bool) {
	if v, ok := o[key].(bool); ok {
		return v, true
	}
	return false, false
}

// String renders a scalar option the way it would appear on a command line.
func (o Options) String(key string) (string, bool) {
	v, ok := o[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	default:
		return fmt.Sprint(t), true
	}
}

func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if IsInfinite(v) {
			return math.MaxInt32
		}
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (o Options) StringSlice(key string) []string {
	return toStringSlice(o[key])
}

// StringSliceMap reads a mapping of string lists, e.g. external_downloader_args.
func (o Options) StringSliceMap(key string) map[string][]string {
	out := map[string][]string{}
	switch v := o[key].(type) {
	case map[string][]string:
		return v
	case map[string]any:
		for k, item := range v {
			out[k] = toStringSlice(item)
		}
	}
	return out
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case string:
		return strings.Fields(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// IsInfinite reports whether a retry value is one of the unbounded sentinels.
func IsInfinite(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "inf", "infinite":
		return true
	}
	return false
}

// RetryPolicyFrom builds the fragment retry policy from the option mapping.
func RetryPolicyFrom(opts Options) RetryPolicy {
	policy := RetryPolicy{
		MaxRetries:      max(0, opts.Int("fragment_retries", DefaultFragmentRetries)),
		SkipUnavailable: opts.Bool("skip_unavailable_fragments", true),
		KeepFragments:   opts.Bool("keep_fragments", false),
		ProtectedOffset: max(0, opts.Int("protected_fragments", DefaultProtectedFragments)) - DefaultProtectedFragments,
	}
	if sleep := opts.Float("retry_sleep", 0); sleep > 0 {
		d := time.Duration(sleep * float64(time.Second))
		policy.Sleep = func(int) time.Duration { return d }
	}
	return policy
}
