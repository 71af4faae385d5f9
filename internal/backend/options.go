package backend

import (
	"slices"

	"github.com/tanq16/extdl/internal/utils"
)

// Option emits [flag, value] when the option is set.
func Option(opts utils.Options, flag, key string) []string {
	value, ok := opts.String(key)
	if !ok {
		return nil
	}
	return []string{flag, value}
}

// BoolOption emits the flag with an explicit true/false literal. With a
// non-empty separator the flag and literal are joined into one argument.
func BoolOption(opts utils.Options, flag, key, trueValue, falseValue, separator string) []string {
	value, ok := opts.OptBool(key)
	if !ok {
		return nil
	}
	literal := falseValue
	if value {
		literal = trueValue
	}
	if separator != "" {
		return []string{flag + separator + literal}
	}
	return []string{flag, literal}
}

// ValuelessOption emits the bare flag when the boolean option equals expected.
func ValuelessOption(opts utils.Options, flag, key string, expected bool) []string {
	value, ok := opts.OptBool(key)
	if !ok || value != expected {
		return nil
	}
	return []string{flag}
}

// RetryOption is Option for retry counts, translating inf/infinite to the
// backend's literal for "unbounded".
func RetryOption(opts utils.Options, flag, key, unbounded string) []string {
	retry := Option(opts, flag, key)
	if len(retry) == 2 && utils.IsInfinite(retry[1]) {
		retry[1] = unbounded
	}
	return retry
}

// ConfigArgs returns the raw extra arguments configured for a backend under
// external_downloader_args. It looks up name+suffix for each suffix in order;
// no suffixes means the single suffix "". When "" is among the suffixes the
// executable name and "default" are tried last. The first key present wins.
func ConfigArgs(opts utils.Options, name, exe string, suffixes ...string) []string {
	argdict := opts.StringSliceMap("external_downloader_args")
	if len(argdict) == 0 {
		return nil
	}
	if len(suffixes) == 0 {
		suffixes = []string{""}
	}
	var keys []string
	for _, s := range suffixes {
		keys = append(keys, name+s)
	}
	if slices.Contains(suffixes, "") {
		keys = append(keys, exe, "default")
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if args, ok := argdict[k]; ok {
			return args
		}
	}
	return nil
}

// HeaderArgs emits one flag/"Key: Value" pair per header in order.
func HeaderArgs(headers utils.Headers, flag string) []string {
	var args []string
	for _, h := range headers {
		args = append(args, flag, h.Key+": "+h.Value)
	}
	return args
}
