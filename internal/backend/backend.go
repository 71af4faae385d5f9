package backend

import (
	"context"

	"github.com/tanq16/extdl/internal/utils"
)

// CommandBuilder turns a task into the argument vector of one backend.
// Implementations are pure apart from reporting warnings.
type CommandBuilder interface {
	BuildCommand(task *utils.Task) ([]string, error)
}

// ProcessDriver runs a task end to end through an external process, writing to
// task.TempPath. Renaming to the final path is the caller's job.
type ProcessDriver interface {
	Descriptor() Descriptor
	Download(ctx context.Context, task *utils.Task) error
}

// TranscodePlanner is implemented by backends that drive a transcoding tool
// and can describe the full invocation before running it.
type TranscodePlanner interface {
	Plan(task *utils.Task) (*Plan, error)
}

// Plan is a fully resolved transcoder invocation. StdinInput marks an input
// read from the child's stdin ("-" or "pipe:").
type Plan struct {
	Args           []string
	Env            []string
	NativeProgress bool
	ToPipe         bool
	StdinInput     bool
	Live           bool
}
