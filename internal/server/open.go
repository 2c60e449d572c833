package server

import (
	"fmt"
	"os/exec"
	"runtime"
)

// launchWithDefaultApp hands a stored file to the host desktop's default
// application for its type. The command is detached; its exit status is not
// observed.
func launchWithDefaultApp(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch default app: %w", err)
	}
	go cmd.Wait() // reap
	return nil
}
