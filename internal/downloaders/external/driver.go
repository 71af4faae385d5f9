package external

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/fragment"
	"github.com/tanq16/extdl/internal/process"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

// Backend is what a concrete external downloader provides to the Driver.
type Backend interface {
	backend.CommandBuilder
	Descriptor() backend.Descriptor
}

// ProcessCaller replaces the default way a single invocation is run.
type ProcessCaller interface {
	CallProcess(ctx context.Context, args []string, task *utils.Task) (process.Result, error)
}

// TaskPreparer adjusts a private copy of the task before the command is built.
type TaskPreparer interface {
	PrepareTask(task *utils.Task) *utils.Task
}

// Driver runs any command-line downloader: build the command, supervise the
// process, retry fragmented downloads and reassemble the fragments. A nil
// Decrypt means encrypted fragments are refused.
type Driver struct {
	Backend  Backend
	Options  utils.Options
	Reporter *progress.Reporter
	Decrypt  fragment.Decrypter
}

func (d *Driver) Descriptor() backend.Descriptor {
	return d.Backend.Descriptor()
}

func (d *Driver) name() string {
	return d.Backend.Descriptor().Name
}

func (d *Driver) Download(ctx context.Context, task *utils.Task) error {
	log.Info().Str("op", d.name()+"/download").Msgf("Destination: %s", task.TempPath)
	if p, ok := d.Backend.(TaskPreparer); ok {
		task = p.PrepareTask(task)
	}
	if method := fragment.EncryptionMethod(task.Fragments); method != "" && d.Decrypt == nil {
		return fmt.Errorf("%s cannot decrypt %s fragments: %w", d.name(), method, backend.ErrUnsupportedTask)
	}
	started := time.Now()
	res, err := d.callDownloader(ctx, task)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		d.Reporter.Report(progress.Status{
			Filename: task.OutputPath,
			State:    progress.StateError,
			Elapsed:  time.Since(started).Seconds(),
		})
		return &backend.ProcessError{Backend: d.name(), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	status := progress.Status{
		Filename: task.OutputPath,
		State:    progress.StateFinished,
		Elapsed:  time.Since(started).Seconds(),
	}
	if task.TempPath != "-" {
		if info, serr := os.Stat(task.TempPath); serr == nil {
			log.Info().Str("op", d.name()+"/download").Msgf("Downloaded %s", utils.FormatBytes(uint64(info.Size())))
			status.SetDownloaded(info.Size())
			status.SetTotal(info.Size())
		}
	}
	// a monitored backend may already have sent the final sample
	if !d.Reporter.Finished() {
		d.Reporter.Report(status)
	}
	return nil
}

func (d *Driver) callDownloader(ctx context.Context, task *utils.Task) (process.Result, error) {
	args, err := d.Backend.BuildCommand(task)
	if err != nil {
		return process.Result{ExitCode: -1}, err
	}
	log.Debug().Str("op", d.name()+"/download").Msgf("Executing command: %s", strings.Join(args, " "))
	outcome := process.DecideOutcome(task)

	if !task.IsFragmented() {
		res, err := d.invoke(ctx, args, task, outcome)
		if err != nil {
			return res, err
		}
		if res.ExitCode == 0 {
			if text := strings.TrimSpace(string(res.Stderr)); text != "" {
				log.Debug().Str("op", d.name()+"/stderr").Msg(text)
			}
		} else {
			d.Reporter.Stderr(d.name(), res.Stderr)
		}
		return res, nil
	}

	policy := utils.RetryPolicyFrom(d.Options)
	retry := &fragment.RetryManager{Backend: d.name(), Policy: policy, Reporter: d.Reporter}
	if _, err := retry.Run(ctx, func(ctx context.Context) (process.Result, error) {
		return d.invoke(ctx, args, task, outcome)
	}); err != nil {
		return process.Result{ExitCode: -1}, err
	}
	reassembler := &fragment.Reassembler{Backend: d.name(), Policy: policy, Decrypt: d.Decrypt}
	if err := reassembler.Reassemble(task.TempPath, task.Fragments); err != nil {
		return process.Result{ExitCode: -1}, err
	}
	return process.Result{}, nil
}

// invoke runs one process and applies the cancellation outcome decided for the task.
func (d *Driver) invoke(ctx context.Context, args []string, task *utils.Task, outcome process.CancelOutcome) (process.Result, error) {
	var res process.Result
	var err error
	if caller, ok := d.Backend.(ProcessCaller); ok {
		res, err = caller.CallProcess(ctx, args, task)
	} else {
		res, err = process.Run(ctx, DefaultSpec(args, task, d.Options))
	}
	if err == nil || ctx.Err() == nil {
		return res, err
	}
	if outcome == process.GracefulStop {
		log.Info().Str("op", d.name()+"/download").Msg("Interrupted by user")
		res.ExitCode = 0
		return res, nil
	}
	return res, fmt.Errorf("%s interrupted (exit code %d): %w", d.name(), res.ExitCode, err)
}

// DefaultSpec captures stderr for relaying and stops the child with an
// interrupt, or a hard kill when the destination is a pipe.
func DefaultSpec(args []string, task *utils.Task, opts utils.Options) process.Spec {
	spec := process.Spec{
		Args:   args,
		Stdout: process.StreamDiscard,
		Stderr: process.StreamCapture,
		Stop:   process.StopInterrupt,
	}
	if opts.Bool("verbose", false) {
		spec.Stdout = process.StreamInherit
	}
	if task.WritesToPipe() {
		spec.Stop = process.StopKill
	}
	return spec
}

// IsCancelled reports whether err came from an external cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
