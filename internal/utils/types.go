package utils

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Task is one resolved download handed to a backend. It is read-only once dispatched.
// IndexedInputParams is keyed by 1-based input number and applies before InputParams.
type Task struct {
	ID                   string           `yaml:"id,omitempty"`
	URL                  string           `yaml:"url"`
	RequestedFormats     []Format         `yaml:"formats,omitempty"`
	Protocol             string           `yaml:"protocol"`
	ManifestStreamNumber int              `yaml:"stream,omitempty"`
	Headers              Headers          `yaml:"headers,omitempty"`
	Fragments            []Fragment       `yaml:"fragments,omitempty"`
	OutputPath           string           `yaml:"op"`
	TempPath             string           `yaml:"temp,omitempty"`
	Ext                  string           `yaml:"ext,omitempty"`
	Acodec               string           `yaml:"acodec,omitempty"`
	IsLive               bool             `yaml:"live,omitempty"`
	ToStdout             bool             `yaml:"stdout,omitempty"`
	SectionStart         float64          `yaml:"section_start,omitempty"`
	SectionEnd           float64          `yaml:"section_end,omitempty"`
	Seekable             *bool            `yaml:"seekable,omitempty"`
	Duration             float64          `yaml:"duration,omitempty"`
	RTMP                 RTMPInfo         `yaml:"rtmp,omitempty"`
	IndexedInputParams   map[int][]string `yaml:"indexed_input_params,omitempty"`
	InputParams          []string         `yaml:"input_params,omitempty"`
	OutputParams         []string         `yaml:"output_params,omitempty"`
	FFmpegArgs           []string         `yaml:"ffmpeg_args,omitempty"`
}

// Format is one input of a multi-format merge (e.g. separate video and audio).
type Format struct {
	URL                  string     `yaml:"url"`
	Protocol             string     `yaml:"protocol,omitempty"`
	Acodec               string     `yaml:"acodec,omitempty"`
	ManifestStreamNumber int        `yaml:"stream,omitempty"`
	Fragments            []Fragment `yaml:"fragments,omitempty"`
}

type Fragment struct {
	Index    int               `yaml:"index"`
	URL      string            `yaml:"url"`
	Range    string            `yaml:"range,omitempty"`
	Duration float64           `yaml:"duration,omitempty"`
	Decrypt  map[string]string `yaml:"decrypt,omitempty"`
}

type RTMPInfo struct {
	PlayerURL    string   `yaml:"player_url,omitempty"`
	PageURL      string   `yaml:"page_url,omitempty"`
	App          string   `yaml:"app,omitempty"`
	PlayPath     string   `yaml:"play_path,omitempty"`
	TCURL        string   `yaml:"tc_url,omitempty"`
	FlashVersion string   `yaml:"flash_version,omitempty"`
	Live         bool     `yaml:"live,omitempty"`
	Conn         []string `yaml:"conn,omitempty"`
}

type Header struct {
	Key   string
	Value string
}

// Headers keeps insertion order; backends treat repeated keys positionally.
type Headers []Header

func (h Headers) Get(key string) (string, bool) {
	for _, header := range h {
		if strings.EqualFold(header.Key, key) {
			return header.Value, true
		}
	}
	return "", false
}

// Without returns a copy of h minus every header whose key matches one of keys (case-insensitive).
func (h Headers) Without(keys ...string) Headers {
	out := make(Headers, 0, len(h))
	for _, header := range h {
		drop := false
		for _, k := range keys {
			if strings.EqualFold(header.Key, k) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, header)
		}
	}
	return out
}

func (h *Headers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("headers must be a mapping, got yaml kind %d", node.Kind)
	}
	out := make(Headers, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = append(out, Header{Key: node.Content[i].Value, Value: node.Content[i+1].Value})
	}
	*h = out
	return nil
}

func (h Headers) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, header := range h {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: header.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: header.Value},
		)
	}
	return node, nil
}

// Protocols splits a combined protocol tag such as "m3u8_native+https".
func (t *Task) Protocols() []string {
	return strings.Split(t.Protocol, "+")
}

func (t *Task) IsFragmented() bool {
	return len(t.Fragments) > 0
}

// IsMultiFormat reports whether the task merges more than one input.
func (t *Task) IsMultiFormat() bool {
	return strings.Contains(t.Protocol, "+")
}

// InputURLs returns the requested format URLs, or the single task URL.
func (t *Task) InputURLs() []string {
	if len(t.RequestedFormats) == 0 {
		return []string{t.URL}
	}
	urls := make([]string, 0, len(t.RequestedFormats))
	for _, f := range t.RequestedFormats {
		urls = append(urls, f.URL)
	}
	return urls
}

func (t *Task) WritesToPipe() bool {
	return t.TempPath == "-" || t.ToStdout
}

// RetryPolicy controls the fragment retry loop and reassembly skipping.
// ProtectedOffset shifts the protected prefix away from
// DefaultProtectedFragments, so the zero value still protects the first two.
type RetryPolicy struct {
	MaxRetries      int
	SkipUnavailable bool
	KeepFragments   bool
	ProtectedOffset int
	Sleep           func(attempt int) time.Duration
}

// Protected is the number of leading fragments that must never be skipped.
func (p RetryPolicy) Protected() int {
	return max(0, DefaultProtectedFragments+p.ProtectedOffset)
}
