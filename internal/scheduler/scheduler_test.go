package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/downloaders"
	"github.com/tanq16/extdl/internal/history"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

// TestProbeHelper answers backend probes for the fake entries below.
func TestProbeHelper(t *testing.T) {
	if os.Getenv("EXTDL_SCHED_HELPER") != "1" {
		return
	}
	os.Exit(0)
}

type fakeDriver struct {
	desc backend.Descriptor
	err  error
}

func (f *fakeDriver) Descriptor() backend.Descriptor { return f.desc }

func (f *fakeDriver) Download(ctx context.Context, task *utils.Task) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(task.TempPath, []byte("payload"), 0644)
}

func fakeEntry(name string, err error) downloaders.Entry {
	desc := backend.Descriptor{
		Name:      name,
		ExeName:   name,
		ProbeArg:  "-test.run=^TestProbeHelper$",
		Protocols: []string{"https"},
	}
	return downloaders.Entry{
		Descriptor: desc,
		New: func(exe string, opts utils.Options, reporter *progress.Reporter) backend.ProcessDriver {
			return &fakeDriver{desc: desc, err: err}
		},
	}
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []history.Record
}

func (m *memoryRecorder) Add(_ context.Context, rec history.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return int64(len(m.records)), nil
}

func newTask(dir, name string) *utils.Task {
	out := filepath.Join(dir, name)
	return &utils.Task{
		ID:         name,
		URL:        "https://cdn.example.com/" + name,
		Protocol:   "https",
		OutputPath: out,
		TempPath:   utils.TempName(out),
	}
}

func TestProcessTaskFallsThrough(t *testing.T) {
	t.Setenv("EXTDL_SCHED_HELPER", "1")
	dir := t.TempDir()
	entries := []downloaders.Entry{
		fakeEntry("unavailable", fmt.Errorf("gone: %w", backend.ErrExecutableUnavailable)),
		fakeEntry("working", nil),
	}
	cfg := Config{Paths: map[string]string{"unavailable": os.Args[0], "working": os.Args[0]}}
	task := newTask(dir, "video.mp4")

	res, err := processTask(context.Background(), task, entries, cfg)
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}
	if res.Backend != "working" || res.OutputPath != task.OutputPath || res.Bytes != 7 {
		t.Errorf("unexpected result %+v", res)
	}
	if _, err := os.Stat(task.TempPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file should be renamed away")
	}
}

func TestProcessTaskHardFailure(t *testing.T) {
	t.Setenv("EXTDL_SCHED_HELPER", "1")
	perr := &backend.ProcessError{Backend: "broken", ExitCode: 1}
	entries := []downloaders.Entry{fakeEntry("broken", perr), fakeEntry("working", nil)}
	cfg := Config{Paths: map[string]string{"broken": os.Args[0], "working": os.Args[0]}}

	res, err := processTask(context.Background(), newTask(t.TempDir(), "v.mp4"), entries, cfg)
	if !errors.As(err, &perr) {
		t.Fatalf("a process failure must not fall through, got %v", err)
	}
	if res.Backend != "broken" {
		t.Errorf("result should name the failing backend, got %q", res.Backend)
	}
}

func TestProcessTaskNoBackend(t *testing.T) {
	entries := []downloaders.Entry{fakeEntry("missing", nil)}
	_, err := processTask(context.Background(), newTask(t.TempDir(), "v.mp4"), entries, Config{})
	if !errors.Is(err, backend.ErrUnsupportedTask) {
		t.Errorf("expected ErrUnsupportedTask, got %v", err)
	}
}

func TestAfter(t *testing.T) {
	entries := []downloaders.Entry{fakeEntry("a", nil), fakeEntry("b", nil), fakeEntry("c", nil)}
	if got := after(entries, "a"); len(got) != 2 || got[0].Descriptor.Name != "b" {
		t.Errorf("after(a) = %d entries", len(got))
	}
	if got := after(entries, "c"); len(got) != 0 {
		t.Errorf("after(c) should be empty")
	}
	if got := after(entries, "zzz"); got != nil {
		t.Errorf("after(unknown) should be nil")
	}
}

func TestFinalize(t *testing.T) {
	dir := t.TempDir()
	task := newTask(dir, "video.mp4")
	os.WriteFile(task.OutputPath, []byte("old"), 0644)

	os.WriteFile(task.TempPath, []byte("new"), 0644)
	path, size, err := finalize(task, false)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "video-(1).mp4") || size != 3 {
		t.Errorf("existing output should be kept: %s %d", path, size)
	}

	os.WriteFile(task.TempPath, []byte("newer"), 0644)
	path, _, err = finalize(task, true)
	if err != nil || path != task.OutputPath {
		t.Fatalf("overwrite should replace the output: %s %v", path, err)
	}
	if data, _ := os.ReadFile(task.OutputPath); string(data) != "newer" {
		t.Errorf("output = %q", data)
	}

	if _, _, err := finalize(task, false); err == nil {
		t.Errorf("missing temp file should fail")
	}

	piped := &utils.Task{OutputPath: "-", TempPath: "-"}
	if path, _, err := finalize(piped, false); err != nil || path != "-" {
		t.Errorf("piped output needs no rename")
	}
}

func TestRecord(t *testing.T) {
	rec := &memoryRecorder{}
	task := newTask(t.TempDir(), "v.mp4")
	task.Fragments = []utils.Fragment{{Index: 0}, {Index: 1}}
	started := time.Now().Add(-2 * time.Second)

	record(rec, task, result{Backend: "aria2c", OutputPath: "/renamed.mp4", Bytes: 42}, nil, started)
	record(rec, task, result{Backend: "curl"}, errors.New("curl exited with code 22"), started)
	record(nil, task, result{}, nil, started)

	if len(rec.records) != 2 {
		t.Fatalf("got %d records", len(rec.records))
	}
	ok, failed := rec.records[0], rec.records[1]
	if ok.Status != history.StatusFinished || ok.OutputPath != "/renamed.mp4" || ok.Bytes != 42 || ok.Fragments != 2 {
		t.Errorf("unexpected finished record %+v", ok)
	}
	if ok.FinishedAt-ok.StartedAt < 1 {
		t.Errorf("timestamps not recorded: %+v", ok)
	}
	if failed.Status != history.StatusFailed || failed.Error != "curl exited with code 22" || failed.OutputPath != task.OutputPath {
		t.Errorf("unexpected failed record %+v", failed)
	}
}

type fakeDisplay struct {
	progress.SinkFunc
	mu        sync.Mutex
	completed []string
	failed    []string
	warnings  []string
}

func (d *fakeDisplay) Register(taskID, name string) {}
func (d *fakeDisplay) SetMessage(taskID, message string) {}
func (d *fakeDisplay) Warn(taskID, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.warnings = append(d.warnings, msg)
}
func (d *fakeDisplay) Complete(taskID, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed = append(d.completed, taskID)
}
func (d *fakeDisplay) ReportError(taskID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, taskID)
}

func TestRunUnknownDownloader(t *testing.T) {
	err := Run(context.Background(), []utils.Task{*newTask(t.TempDir(), "v.mp4")}, Config{Preferred: []string{"nope"}})
	if err == nil {
		t.Errorf("expected error for unknown downloader")
	}
}

func TestRunReportsFailures(t *testing.T) {
	dir := t.TempDir()
	display := &fakeDisplay{SinkFunc: func(string, progress.Status) {}}
	rec := &memoryRecorder{}
	tasks := []utils.Task{*newTask(dir, "a.unsupported"), *newTask(dir, "b.unsupported")}
	for i := range tasks {
		tasks[i].Protocol = "gopher"
	}
	err := Run(context.Background(), tasks, Config{Workers: 2, Display: display, History: rec})
	if !errors.Is(err, backend.ErrUnsupportedTask) {
		t.Errorf("expected joined ErrUnsupportedTask, got %v", err)
	}
	if len(display.failed) != 2 || len(display.completed) != 0 {
		t.Errorf("display saw %d failures, %d completions", len(display.failed), len(display.completed))
	}
	if len(rec.records) != 2 || rec.records[0].Status != history.StatusFailed {
		t.Errorf("failures should be recorded: %+v", rec.records)
	}
}
