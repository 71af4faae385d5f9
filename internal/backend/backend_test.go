package backend

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/tanq16/extdl/internal/utils"
)

func TestSupports(t *testing.T) {
	plain := Descriptor{Name: "curl", Protocols: DefaultProtocols}
	merger := Descriptor{
		Name:      "ffmpeg",
		Protocols: []string{"http", "https", "m3u8", "rtmp"},
		Features:  []Feature{FeatureToStdout, FeatureMultipleFormats},
	}

	tests := []struct {
		name string
		desc Descriptor
		task utils.Task
		want bool
	}{
		{"plain https", plain, utils.Task{Protocol: "https"}, true},
		{"plain ftp", plain, utils.Task{Protocol: "ftp"}, true},
		{"plain unknown protocol", plain, utils.Task{Protocol: "m3u8"}, false},
		{"plain to stdout", plain, utils.Task{Protocol: "https", ToStdout: true}, false},
		{"plain multi format", plain, utils.Task{Protocol: "https+https"}, false},
		{"merger multi format", merger, utils.Task{Protocol: "https+m3u8"}, true},
		{"merger one unsupported part", merger, utils.Task{Protocol: "https+ftp"}, false},
		{"merger to stdout", merger, utils.Task{Protocol: "rtmp", ToStdout: true}, true},
		{"empty protocol", plain, utils.Task{Protocol: ""}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.desc.Supports(&tt.task); got != tt.want {
				t.Errorf("Supports(%q) = %v, want %v", tt.task.Protocol, got, tt.want)
			}
		})
	}
}

func TestFeatureString(t *testing.T) {
	if FeatureToStdout.String() != "to-stdout" || FeatureMultipleFormats.String() != "multiple-formats" {
		t.Errorf("unexpected feature names %q %q", FeatureToStdout, FeatureMultipleFormats)
	}
	if Feature(0).String() != "unknown" {
		t.Errorf("zero feature should be unknown")
	}
}

func TestOptionHelpers(t *testing.T) {
	opts := utils.Options{
		"ratelimit":          "50K",
		"retries":            "inf",
		"fragment_retries":   float64(3),
		"nocheckcertificate": true,
		"continuedl":         false,
	}

	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"option set", Option(opts, "--limit-rate", "ratelimit"), []string{"--limit-rate", "50K"}},
		{"option absent", Option(opts, "--proxy", "proxy"), nil},
		{"option float", Option(opts, "--retries", "fragment_retries"), []string{"--retries", "3"}},
		{"retry inf", RetryOption(opts, "--retry", "retries", "2147483647"), []string{"--retry", "2147483647"}},
		{"retry number", RetryOption(opts, "--tries", "fragment_retries", "0"), []string{"--tries", "3"}},
		{"bool joined", BoolOption(opts, "--check-certificate", "nocheckcertificate", "false", "true", "="), []string{"--check-certificate=false"}},
		{"bool split", BoolOption(opts, "--continue", "continuedl", "true", "false", ""), []string{"--continue", "false"}},
		{"bool absent", BoolOption(opts, "--quiet", "quiet", "true", "false", "="), nil},
		{"valueless match", ValuelessOption(opts, "--insecure", "nocheckcertificate", true), []string{"--insecure"}},
		{"valueless mismatch", ValuelessOption(opts, "--no-continue", "continuedl", true), nil},
		{"valueless false expected", ValuelessOption(opts, "--no-continue", "continuedl", false), []string{"--no-continue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !slices.Equal(tt.got, tt.want) {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestConfigArgs(t *testing.T) {
	opts := utils.Options{
		"external_downloader_args": map[string]any{
			"default":    []any{"--default"},
			"curl":       "-sS --http1.1",
			"ffmpeg_i1":  []string{"-thread_queue_size", "512"},
			"ffmpeg_o":   []string{"-movflags", "+faststart"},
			"aria2c.exe": []string{"--exe"},
		},
	}

	tests := []struct {
		name     string
		backend  string
		exe      string
		suffixes []string
		want     []string
	}{
		{"by name", "curl", "curl", nil, []string{"-sS", "--http1.1"}},
		{"by exe", "aria2", "aria2c.exe", nil, []string{"--exe"}},
		{"default", "wget", "wget", nil, []string{"--default"}},
		{"first suffix wins", "ffmpeg", "ffmpeg", []string{"_i1", "_i"}, []string{"-thread_queue_size", "512"}},
		{"fallback suffix", "ffmpeg", "ffmpeg", []string{"_o1", "_o"}, []string{"-movflags", "+faststart"}},
		{"no suffix match", "ffmpeg", "ffmpeg", []string{"_i2", "_i"}, nil},
		{"empty suffix falls back to default", "ffmpeg", "ffmpeg", []string{"_o2", "_x", ""}, []string{"--default"}},
		{"empty suffix tries exe first", "aria2", "aria2c.exe", []string{"_o1", ""}, []string{"--exe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConfigArgs(opts, tt.backend, tt.exe, tt.suffixes...)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ConfigArgs(%s) = %q, want %q", tt.backend, got, tt.want)
			}
		})
	}

	if got := ConfigArgs(utils.Options{}, "curl", "curl"); got != nil {
		t.Errorf("expected nil without argdict, got %q", got)
	}
}

func TestHeaderArgs(t *testing.T) {
	headers := utils.Headers{{Key: "User-Agent", Value: "x"}, {Key: "Referer", Value: "https://a"}}
	got := HeaderArgs(headers, "--header")
	want := []string{"--header", "User-Agent: x", "--header", "Referer: https://a"}
	if !slices.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestErrors(t *testing.T) {
	perr := &ProcessError{Backend: "curl", ExitCode: 22, Stderr: []byte("404")}
	if perr.Error() != "curl exited with code 22" {
		t.Errorf("unexpected message %q", perr.Error())
	}
	if !errors.Is(perr, ErrProcessFailed) {
		t.Errorf("ProcessError should unwrap to ErrProcessFailed")
	}

	cause := errors.New("no such file")
	ferr := &FragmentError{Index: 4, Err: cause}
	if !errors.Is(ferr, ErrFragmentUnavailable) || !errors.Is(ferr, cause) {
		t.Errorf("FragmentError should unwrap to both sentinel and cause")
	}

	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("wget: %w", ErrExecutableUnavailable), true},
		{fmt.Errorf("x: %w", ErrUnsupportedTask), true},
		{perr, false},
		{ErrRetriesExhausted, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// TestProbeHelper is the fake executable probed by TestProbe and TestAvailable.
func TestProbeHelper(t *testing.T) {
	if os.Getenv("EXTDL_PROBE_HELPER") != "1" {
		return
	}
	fmt.Println("fake downloader 1.2.3")
	os.Exit(3)
}

func TestProbe(t *testing.T) {
	t.Setenv("EXTDL_PROBE_HELPER", "1")
	out, err := Probe(os.Args[0], "-test.run=^TestProbeHelper$")
	if err != nil {
		t.Fatalf("Probe returned error for non-zero exit: %v", err)
	}
	if !strings.Contains(string(out), "fake downloader 1.2.3") {
		t.Errorf("version output missing version line: %q", out)
	}

	if _, err := Probe("/nonexistent/extdl-fake-binary", "--version"); err == nil {
		t.Errorf("expected error for missing binary")
	}
}

func TestAvailable(t *testing.T) {
	t.Setenv("EXTDL_PROBE_HELPER", "1")
	desc := Descriptor{Name: "fake", ExeName: "extdl-fake-binary-does-not-exist", ProbeArg: "-test.run=^TestProbeHelper$"}

	if _, err := desc.Available(""); !errors.Is(err, ErrExecutableUnavailable) {
		t.Errorf("expected ErrExecutableUnavailable, got %v", err)
	}
	path, err := desc.Available(os.Args[0])
	if err != nil {
		t.Fatalf("Available with override failed: %v", err)
	}
	if path == "" {
		t.Errorf("expected resolved path")
	}
}
