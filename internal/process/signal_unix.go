//go:build !windows

package process

import (
	"os"
	"syscall"
)

const canInterrupt = true

func interrupt(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
