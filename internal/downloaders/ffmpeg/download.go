package ffmpeg

import (
	"bufio"
	"context"
	"io"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/process"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

// PrepareTask hides fragments from the generic driver: ffmpeg fetches
// segmented streams itself, so there is nothing to retry or reassemble.
func (d *Downloader) PrepareTask(task *utils.Task) *utils.Task {
	if !task.IsFragmented() {
		return task
	}
	t := *task
	t.Fragments = nil
	return &t
}

func (d *Downloader) BuildCommand(task *utils.Task) ([]string, error) {
	plan, err := d.Plan(task)
	if err != nil {
		return nil, err
	}
	d.plan = plan
	return plan.Args, nil
}

// CallProcess runs the planned invocation. On cancellation ffmpeg is asked to
// quit through stdin so it can finalize the container; piped output, stdin
// input and Windows get a hard kill instead.
func (d *Downloader) CallProcess(ctx context.Context, args []string, task *utils.Task) (process.Result, error) {
	plan := d.plan
	spec := process.Spec{
		Args:   args,
		Env:    plan.Env,
		Stdin:  true,
		Stdout: process.StreamInherit,
		Stderr: process.StreamInherit,
		Stop:   process.StopQuit,
	}
	if plan.ToPipe || plan.StdinInput || runtime.GOOS == "windows" {
		spec.Stop = process.StopKill
	}
	if plan.StdinInput {
		return d.feed(ctx, spec)
	}
	if !plan.NativeProgress {
		return process.Run(ctx, spec)
	}

	spec.Stdout = process.StreamPipe
	spec.Stderr = process.StreamDiscard
	h, err := process.Start(spec)
	if err != nil {
		return process.Result{ExitCode: -1}, err
	}
	type waited struct {
		res process.Result
		err error
	}
	done := make(chan waited, 1)
	go func() {
		res, err := h.WaitOrKill(ctx)
		done <- waited{res, err}
	}()
	duration := task.Duration
	if task.SectionEnd > 0 {
		duration = task.SectionEnd - task.SectionStart
	}
	stdout := h.Stdout()
	if perr := ParseProgress(stdout, task.OutputPath, duration, time.Now(), d.reporter.Report); perr != nil {
		log.Debug().Str("op", "ffmpeg/progress").Err(perr).Msg("Progress stream unreadable")
	}
	// the child blocks on a full pipe until it exits
	io.Copy(io.Discard, stdout)
	w := <-done
	return w.res, w.err
}

// feed starts ffmpeg and streams the input through StdinFeeder while waiting
// for the process.
func (d *Downloader) feed(ctx context.Context, spec process.Spec) (process.Result, error) {
	h, err := process.Start(spec)
	if err != nil {
		return process.Result{ExitCode: -1}, err
	}
	fed := make(chan error, 1)
	go func() {
		err := d.StdinFeeder(ctx, h.Stdin())
		h.CloseStdin()
		fed <- err
	}()
	res, err := h.WaitOrKill(ctx)
	if ferr := <-fed; ferr != nil {
		log.Warn().Str("op", "ffmpeg/stdin").Err(ferr).Msg("Input stream ended early")
	}
	return res, err
}

// ParseProgress reads ffmpeg's -progress stream and emits one downloading
// sample per "progress=" line. duration is the expected media length in
// seconds; when known it turns the written size into a total estimate and ETA.
func ParseProgress(r io.Reader, filename string, duration float64, started time.Time, emit func(progress.Status)) error {
	fields := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "progress" {
			fields[key] = value
			continue
		}
		emit(progressStatus(fields, filename, duration, time.Since(started).Seconds()))
		if value == "end" {
			break
		}
	}
	return scanner.Err()
}

func progressStatus(fields map[string]string, filename string, duration, elapsed float64) progress.Status {
	status := progress.Status{Filename: filename, State: progress.StateDownloading, Elapsed: elapsed}
	size, err := strconv.ParseInt(fields["total_size"], 10, 64)
	if err != nil {
		size = 0
	}
	status.SetDownloaded(size)
	if elapsed > 0 && size > 0 {
		status.SetSpeed(float64(size) / elapsed)
	}

	outTime := outTimeSeconds(fields)
	if duration <= 0 || outTime <= 0 {
		return status
	}
	status.SetTotal(int64(float64(size) * duration / outTime))
	rate, err := strconv.ParseFloat(strings.TrimSuffix(fields["speed"], "x"), 64)
	if err == nil && rate > 0 {
		status.SetETA(max(0, duration-outTime) / rate)
	}
	return status
}

// outTimeSeconds prefers out_time_us; out_time_ms is also microseconds.
func outTimeSeconds(fields map[string]string) float64 {
	for _, key := range []string{"out_time_us", "out_time_ms"} {
		if us, err := strconv.ParseInt(fields[key], 10, 64); err == nil && us > 0 {
			return float64(us) / 1e6
		}
	}
	return 0
}
