package perms

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Escalator changes ownership through a privileged side channel.
type Escalator interface {
	Chown(ctx context.Context, policy OwnershipPolicy, paths []string) error
}

// SudoEscalator runs `sudo -n chown -h user:group -- paths...` as a single
// command. The -n flag makes sudo fail instead of prompting.
type SudoEscalator struct {
	// Command defaults to "sudo".
	Command string
}

// Chown implements Escalator.
func (s SudoEscalator) Chown(ctx context.Context, policy OwnershipPolicy, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	command := s.Command
	if command == "" {
		command = "sudo"
	}
	args := append([]string{"-n", "chown", "-h", policy.String(), "--"}, paths...)
	cmd := exec.CommandContext(ctx, command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s chown %d paths: %w: %s", command, len(paths), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
