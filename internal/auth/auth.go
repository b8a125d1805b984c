// Package auth supplies bearer credentials to the replay engine.
//
// The engine reads the current token before every request and calls Refresh
// synchronously when the remote service answers 401.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Source provides and refreshes a bearer token.
type Source interface {
	// Token returns the current token, possibly empty.
	Token() string

	// Refresh obtains a new token and makes it current.
	Refresh(ctx context.Context) (string, error)
}

// Static is a Source with a fixed token. Refresh returns the same token.
type Static struct {
	token string
}

// NewStatic creates a Static source.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

// Token returns the configured token.
func (s *Static) Token() string {
	return s.token
}

// Refresh returns the configured token unchanged.
func (s *Static) Refresh(context.Context) (string, error) {
	return s.token, nil
}

// ErrEmptyToken is returned when a refresh command prints nothing.
var ErrEmptyToken = errors.New("refresh command produced an empty token")

// Command runs a shell command to obtain a token and caches the result.
//
// The command's trimmed stdout is the token. Refreshes are serialized; a
// failed refresh keeps the previous token.
type Command struct {
	command string

	mu    sync.Mutex
	token string
}

// NewCommand creates a Command source with an optional initial token.
func NewCommand(command, initial string) *Command {
	return &Command{command: command, token: initial}
}

// Token returns the cached token.
func (c *Command) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Refresh runs the command and caches its output.
func (c *Command) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("refresh command failed: %w\n%s", err, stderr.String())
	}

	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", ErrEmptyToken
	}
	c.token = token
	return token, nil
}
