package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/utils"
)

// StopMode is how a running child is asked to stop on cancellation.
type StopMode int

const (
	// StopInterrupt sends an interrupt signal and lets the child finalize.
	StopInterrupt StopMode = iota
	// StopQuit writes a quit directive to the child's stdin.
	StopQuit
	// StopKill terminates immediately.
	StopKill
)

// CancelOutcome decides, before the child is spawned, what an external
// cancellation means for the task.
type CancelOutcome int

const (
	// Propagate: stop the child, capture its exit code and fail with the cancellation.
	Propagate CancelOutcome = iota
	// GracefulStop: stop the child and treat the run as successful.
	GracefulStop
)

func (o CancelOutcome) String() string {
	if o == GracefulStop {
		return "graceful-stop"
	}
	return "propagate"
}

// DecideOutcome: interrupting a live recording is the normal way to end it.
func DecideOutcome(task *utils.Task) CancelOutcome {
	if task.IsLive {
		return GracefulStop
	}
	return Propagate
}

type StreamMode int

const (
	StreamDiscard StreamMode = iota
	StreamCapture
	StreamPipe
	StreamInherit
)

const DefaultGracePeriod = 5 * time.Second

// Spec describes one child process.
type Spec struct {
	Args        []string
	Env         []string
	Stdin       bool
	Stdout      StreamMode
	Stderr      StreamMode
	Stop        StopMode
	QuitCommand []byte
	Grace       time.Duration
}

type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Handle exclusively owns one child process and its pipes.
type Handle struct {
	cmd    *exec.Cmd
	spec   Spec
	stdin  io.WriteCloser
	pr     *io.PipeReader
	pw     *io.PipeWriter
	stdout bytes.Buffer
	stderr bytes.Buffer

	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
}

// Start spawns the child described by spec.
func Start(spec Spec) (*Handle, error) {
	if len(spec.Args) == 0 {
		return nil, errors.New("empty command")
	}
	if spec.Grace == 0 {
		spec.Grace = DefaultGracePeriod
	}
	if spec.Stop == StopQuit && len(spec.QuitCommand) == 0 {
		spec.QuitCommand = []byte("q")
	}
	h := &Handle{spec: spec, done: make(chan struct{})}
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	if spec.Stdin || spec.Stop == StopQuit {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("error creating stdin pipe: %v", err)
		}
		h.stdin = stdin
	}
	switch spec.Stdout {
	case StreamCapture:
		cmd.Stdout = &h.stdout
	case StreamPipe:
		h.pr, h.pw = io.Pipe()
		cmd.Stdout = h.pw
	case StreamInherit:
		cmd.Stdout = os.Stdout
	}
	switch spec.Stderr {
	case StreamCapture:
		cmd.Stderr = &h.stderr
	case StreamInherit:
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting %s: %w", spec.Args[0], err)
	}
	h.cmd = cmd
	log.Debug().Str("op", "process/start").Int("pid", cmd.Process.Pid).Msgf("Started %s", cmd.String())
	go func() {
		h.waitErr = cmd.Wait()
		if h.pw != nil {
			h.pw.Close()
		}
		close(h.done)
	}()
	return h, nil
}

// Stdout is the live stdout stream when Spec.Stdout is StreamPipe.
func (h *Handle) Stdout() io.Reader {
	if h.pr == nil {
		return bytes.NewReader(nil)
	}
	return h.pr
}

func (h *Handle) Stdin() io.Writer {
	return h.stdin
}

// CloseStdin ends the child's input stream.
func (h *Handle) CloseStdin() error {
	if h.stdin == nil {
		return nil
	}
	return h.stdin.Close()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the child exits and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	return h.result()
}

// WaitOrKill blocks until the child exits. If ctx is cancelled first the child
// is asked to stop according to Spec.Stop, the exit code is still
// captured, and ctx.Err() is returned alongside the result.
func (h *Handle) WaitOrKill(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result(), nil
	case <-ctx.Done():
	}
	h.Stop()
	<-h.done
	return h.result(), ctx.Err()
}

// Stop asks the child to exit and escalates to a hard kill after the grace period.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		mode := h.spec.Stop
		if mode == StopInterrupt && !canInterrupt {
			mode = StopKill
		}
		switch mode {
		case StopQuit:
			log.Debug().Str("op", "process/stop").Msg("Sending quit directive")
			if _, err := h.stdin.Write(h.spec.QuitCommand); err != nil {
				h.Kill()
				return
			}
			h.stdin.Close()
		case StopInterrupt:
			log.Debug().Str("op", "process/stop").Msg("Sending interrupt")
			if err := interrupt(h.cmd.Process); err != nil {
				h.Kill()
				return
			}
		default:
			h.Kill()
			return
		}
		go func() {
			timer := time.NewTimer(h.spec.Grace)
			defer timer.Stop()
			select {
			case <-h.done:
			case <-timer.C:
				log.Warn().Str("op", "process/stop").Msgf("Process did not exit within %s, killing", h.spec.Grace)
				h.Kill()
			}
		}()
	})
}

func (h *Handle) Kill() {
	if h.Exited() {
		return
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Debug().Str("op", "process/kill").Err(err).Msg("Kill failed")
	}
}

func (h *Handle) result() Result {
	code := 0
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	} else if h.waitErr != nil {
		code = -1
	}
	return Result{
		ExitCode: code,
		Stdout:   h.stdout.Bytes(),
		Stderr:   h.stderr.Bytes(),
	}
}

// Run starts the child and waits for it, honouring ctx.
func Run(ctx context.Context, spec Spec) (Result, error) {
	h, err := Start(spec)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	return h.WaitOrKill(ctx)
}
