package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/utils"
)

type Feature int

const (
	FeatureToStdout Feature = iota + 1
	FeatureMultipleFormats
)

func (f Feature) String() string {
	switch f {
	case FeatureToStdout:
		return "to-stdout"
	case FeatureMultipleFormats:
		return "multiple-formats"
	}
	return "unknown"
}

var DefaultProtocols = []string{"http", "https", "ftp", "ftps"}

const probeTimeout = 15 * time.Second

// Descriptor is the static capability table of one backend.
type Descriptor struct {
	Name      string
	ExeName   string
	ProbeArg  string
	Protocols []string
	Features  []Feature
}

func (d Descriptor) HasFeature(f Feature) bool {
	return slices.Contains(d.Features, f)
}

// Supports reports whether the backend can handle the task: stdout output and
// multi-format merges need the matching feature and every protocol in the
// task's "+"-joined tag must be declared by the backend.
func (d Descriptor) Supports(task *utils.Task) bool {
	if task.ToStdout && !d.HasFeature(FeatureToStdout) {
		return false
	}
	if task.IsMultiFormat() && !d.HasFeature(FeatureMultipleFormats) {
		return false
	}
	for _, proto := range task.Protocols() {
		if !slices.Contains(d.Protocols, proto) {
			return false
		}
	}
	return true
}

// Available locates the executable and runs its probe argument. The returned
// path is what the backend must be constructed with.
func (d Descriptor) Available(pathOverride string) (string, error) {
	exe := d.ExeName
	if pathOverride != "" && pathOverride != d.Name {
		exe = pathOverride
	}
	path, err := locate(exe)
	if err != nil {
		return "", fmt.Errorf("%s: %w", d.Name, ErrExecutableUnavailable)
	}
	if _, err := Probe(path, d.ProbeArg); err != nil {
		log.Debug().Str("op", "backend/available").Err(err).Msgf("Probe of %s failed", path)
		return "", fmt.Errorf("%s: %w", d.Name, ErrExecutableUnavailable)
	}
	return path, nil
}

// Probe runs exe with arg and returns its combined output. A non-zero exit is
// not a failure: only a binary that cannot be started is.
func Probe(exe string, arg string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	var args []string
	if arg != "" {
		args = append(args, arg)
	}
	cmd := exec.CommandContext(ctx, exe, args...)
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return out, nil
}

func locate(exe string) (string, error) {
	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(filepath.Dir(self), filepath.Base(exe))
	if runtime.GOOS == "windows" && filepath.Ext(candidate) == "" {
		candidate += ".exe"
	}
	if _, err := os.Stat(candidate); err != nil {
		return "", err
	}
	return candidate, nil
}
