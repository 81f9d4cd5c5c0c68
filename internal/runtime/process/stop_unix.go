//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

func (p *processInstance) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	// Signal the direct child through os.Process first. Once the reaper has
	// collected it this reports ErrProcessDone and the group is left alone.
	// The reaper can still collect the child between the two signals, so the
	// group signal narrows the recycled-pid window rather than closing it.
	if err := p.cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("kill process %s: %w", p.name, err)
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %s: %w", p.name, err)
	}
	return nil
}
