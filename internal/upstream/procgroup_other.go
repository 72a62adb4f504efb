//go:build !unix

package upstream

import (
	"os"
	"os/exec"
)

func ownProcessGroup(cmd *exec.Cmd) {}

// signalGroup only reaches p itself; cmd.WaitDelay bounds how long
// descendants holding its output can delay Stop.
func signalGroup(p *os.Process, sig os.Signal) error {
	if sig == os.Kill {
		return p.Kill()
	}
	return p.Signal(sig)
}
