package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

const progressStream = `frame=10
total_size=1000
out_time_us=5000000
out_time_ms=5000000
speed=2x
progress=continue
frame=20
total_size=2000
out_time_us=10000000
out_time_ms=10000000
speed=2.0x
progress=end
total_size=99999
progress=continue
`

func TestParseProgress(t *testing.T) {
	var samples []progress.Status
	err := ParseProgress(strings.NewReader(progressStream), "video.mp4", 20, time.Now().Add(-time.Second), func(s progress.Status) {
		samples = append(samples, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples up to progress=end, got %d", len(samples))
	}
	first, second := samples[0], samples[1]
	if *first.DownloadedBytes != 1000 || *first.TotalBytes != 4000 || *first.ETA != 7.5 {
		t.Errorf("first sample = %d/%d eta %v", *first.DownloadedBytes, *first.TotalBytes, *first.ETA)
	}
	if *second.DownloadedBytes != 2000 || *second.TotalBytes != 4000 || *second.ETA != 5 {
		t.Errorf("second sample = %d/%d eta %v", *second.DownloadedBytes, *second.TotalBytes, *second.ETA)
	}
	if first.Speed == nil || *first.Speed <= 0 {
		t.Errorf("byte speed should be derived from elapsed time")
	}
	if first.State != progress.StateDownloading || first.Filename != "video.mp4" {
		t.Errorf("unexpected sample %+v", first)
	}
}

func TestParseProgressUnknownDuration(t *testing.T) {
	var samples []progress.Status
	stream := "total_size=N/A\nout_time_us=N/A\nprogress=continue\n"
	ParseProgress(strings.NewReader(stream), "v", 0, time.Now(), func(s progress.Status) { samples = append(samples, s) })
	if len(samples) != 1 {
		t.Fatalf("got %d samples", len(samples))
	}
	s := samples[0]
	if *s.DownloadedBytes != 0 || s.TotalBytes != nil || s.ETA != nil || s.Speed != nil {
		t.Errorf("unknown values should stay unset: %+v", s)
	}
}

// TestHelperProcess plays an ffmpeg writing its -progress stream to stdout.
// In "stdin" mode it copies its input to EXTDL_FFMPEG_OUT instead.
func TestHelperProcess(t *testing.T) {
	switch os.Getenv("EXTDL_FFMPEG_HELPER") {
	case "1":
		fmt.Print(progressStream)
		os.Exit(0)
	case "stdin":
		out, err := os.Create(os.Getenv("EXTDL_FFMPEG_OUT"))
		if err != nil {
			os.Exit(3)
		}
		io.Copy(out, os.Stdin)
		out.Close()
		os.Exit(0)
	}
}

func TestCallProcessNativeProgress(t *testing.T) {
	t.Setenv("EXTDL_FFMPEG_HELPER", "1")
	var mu sync.Mutex
	var samples []progress.Status
	reporter := progress.NewReporter("t", progress.SinkFunc(func(_ string, s progress.Status) {
		mu.Lock()
		defer mu.Unlock()
		samples = append(samples, s)
	}))
	d := &Downloader{exe: os.Args[0], opts: utils.Options{}, reporter: reporter}
	d.plan = &backend.Plan{NativeProgress: true}
	task := &utils.Task{OutputPath: "video.mp4", Duration: 20}

	res, err := d.CallProcess(context.Background(), []string{os.Args[0], "-test.run=^TestHelperProcess$"}, task)
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("CallProcess() = %+v, %v", res, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(samples) != 2 {
		t.Fatalf("expected 2 progress samples, got %d", len(samples))
	}
	if *samples[1].TotalBytes != 4000 {
		t.Errorf("unexpected total %d", *samples[1].TotalBytes)
	}
}

func TestCallProcessStdinFeeder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "received")
	t.Setenv("EXTDL_FFMPEG_HELPER", "stdin")
	t.Setenv("EXTDL_FFMPEG_OUT", out)
	d := newTestDownloader(utils.Options{"enable_native_progress": true}, false, nil)
	d.StdinFeeder = func(ctx context.Context, w io.Writer) error {
		for _, chunk := range []string{"frag0", "frag1", "frag2"} {
			if _, err := io.WriteString(w, chunk); err != nil {
				return err
			}
		}
		return nil
	}
	task := &utils.Task{URL: "-", Protocol: "http_dash_segments", Ext: "mp4", TempPath: "v.mp4.part"}
	if _, err := d.BuildCommand(task); err != nil {
		t.Fatal(err)
	}
	if !d.plan.StdinInput || d.plan.NativeProgress {
		t.Fatalf("stdin input should disable native progress: %+v", d.plan)
	}

	res, err := d.CallProcess(context.Background(), []string{os.Args[0], "-test.run=^TestHelperProcess$"}, task)
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("CallProcess() = %+v, %v", res, err)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "frag0frag1frag2" {
		t.Errorf("ffmpeg received %q", data)
	}
}

func TestNewDriver(t *testing.T) {
	var driver backend.ProcessDriver = New("ffmpeg", utils.Options{}, nil)
	if driver.Descriptor().Name != "ffmpeg" {
		t.Errorf("unexpected descriptor")
	}
	planner, ok := driver.(backend.TranscodePlanner)
	if !ok {
		t.Fatalf("ffmpeg driver should expose its plan")
	}
	d := driver.(*Driver)
	asc := false
	d.planner.needsASC = &asc
	plan, err := planner.Plan(&utils.Task{URL: "https://a/v.mp4", Protocol: "https", Ext: "mp4", TempPath: "v.mp4.part"})
	if err != nil || plan.Args[0] != "ffmpeg" {
		t.Errorf("Plan() = %+v, %v", plan, err)
	}
}
