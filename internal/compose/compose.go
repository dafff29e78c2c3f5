// Package compose drives the Docker Compose CLI for the n8n stack. Nothing
// of Docker itself is modeled; compose is an external collaborator reached
// through its standard CLI.
package compose

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// Controller starts and stops compose services in one project directory.
type Controller struct {
	dir    string
	logger zerolog.Logger
}

// NewController creates a Controller for the compose project in dir.
func NewController(dir string, logger zerolog.Logger) *Controller {
	return &Controller{
		dir:    dir,
		logger: logger.With().Str("component", "compose").Logger(),
	}
}

// Up brings the named services (or the whole stack) up detached.
func (c *Controller) Up(ctx context.Context, services ...string) error {
	return c.exec(ctx, append([]string{"up", "-d"}, services...)...)
}

// Stop stops the named services without removing them.
func (c *Controller) Stop(ctx context.Context, services ...string) error {
	return c.exec(ctx, append([]string{"stop"}, services...)...)
}

// Restart restarts the named services.
func (c *Controller) Restart(ctx context.Context, services ...string) error {
	return c.exec(ctx, append([]string{"restart"}, services...)...)
}

func (c *Controller) exec(ctx context.Context, args ...string) error {
	full := append([]string{"compose"}, args...)
	c.logger.Debug().Strs("args", full).Str("dir", c.dir).Msg("executing docker")

	cmd := exec.CommandContext(ctx, "docker", full...)
	cmd.Dir = c.dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker compose %s failed: %w: %s", args[0], err, string(output))
	}
	return nil
}
