package progress

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

type State string

const (
	StateDownloading State = "downloading"
	StateFinished    State = "finished"
	StateError       State = "error"
)

// Status is one progress sample. Pointer fields are nil until known.
type Status struct {
	Filename        string   `json:"filename"`
	State           State    `json:"status"`
	Elapsed         float64  `json:"elapsed"`
	DownloadedBytes *int64   `json:"downloaded_bytes"`
	TotalBytes      *int64   `json:"total_bytes,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
	ETA             *float64 `json:"eta,omitempty"`
	FragmentIndex   *int     `json:"fragment_index,omitempty"`
	FragmentCount   *int     `json:"fragment_count,omitempty"`
}

func (s *Status) SetDownloaded(n int64) { s.DownloadedBytes = &n }
func (s *Status) SetTotal(n int64)      { s.TotalBytes = &n }
func (s *Status) SetSpeed(v float64)    { s.Speed = &v }

func (s *Status) SetETA(v float64) { s.ETA = &v }

func (s *Status) SetFragments(index, count int) {
	s.FragmentIndex = &index
	s.FragmentCount = &count
}

// Sink receives progress samples by value.
type Sink interface {
	Progress(taskID string, status Status)
}

type SinkFunc func(taskID string, status Status)

func (f SinkFunc) Progress(taskID string, status Status) { f(taskID, status) }

// Reporter normalizes samples and warnings for one task and forwards them.
type Reporter struct {
	taskID string
	sinks  []Sink
	mu     sync.Mutex
	warned map[string]bool
	warnFn func(string)

	finished bool
}

func NewReporter(taskID string, sinks ...Sink) *Reporter {
	return &Reporter{
		taskID: taskID,
		sinks:  sinks,
		warned: map[string]bool{},
	}
}

// OnWarning installs a callback that receives each distinct warning once.
func (r *Reporter) OnWarning(fn func(string)) {
	r.warnFn = fn
}

func (r *Reporter) Report(status Status) {
	if r == nil {
		return
	}
	if status.State == StateFinished {
		r.mu.Lock()
		r.finished = true
		r.mu.Unlock()
	}
	for _, s := range r.sinks {
		s.Progress(r.taskID, status)
	}
}

// Finished reports whether a finished sample has already been forwarded.
func (r *Reporter) Finished() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Warn prints a non-fatal warning. Repeated messages are dropped.
func (r *Reporter) Warn(msg string) {
	if r == nil {
		log.Warn().Msg(msg)
		return
	}
	r.mu.Lock()
	seen := r.warned[msg]
	r.warned[msg] = true
	r.mu.Unlock()
	if seen {
		return
	}
	log.Warn().Str("task", r.taskID).Msg(msg)
	if r.warnFn != nil {
		r.warnFn(msg)
	}
}

// Stderr relays a backend's captured stderr verbatim.
func (r *Reporter) Stderr(backend string, stderr []byte) {
	text := strings.TrimRight(string(stderr), "\n")
	if text == "" {
		return
	}
	log.Error().Str("op", backend+"/stderr").Msg(text)
}

// JSONSink writes one JSON object per sample, the wire shape of the progress payload.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (j *JSONSink) Progress(_ string, status Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(status); err != nil {
		log.Debug().Str("op", "progress/json").Err(err).Msg("Error encoding progress")
	}
}
