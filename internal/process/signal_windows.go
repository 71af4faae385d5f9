//go:build windows

package process

import "os"

// Windows cannot deliver SIGINT to a single child; Stop falls back to Kill.
const canInterrupt = false

func interrupt(p *os.Process) error {
	return p.Kill()
}
