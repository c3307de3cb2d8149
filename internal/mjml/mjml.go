// Package mjml renders MJML email markup to HTML via the mjml CLI.
package mjml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrDependencyMissing indicates the mjml binary is not installed.
var ErrDependencyMissing = errors.New("mjml renderer dependency missing")

type Renderer struct {
	binary  string
	timeout time.Duration
}

func NewRenderer(binary string, timeout time.Duration) *Renderer {
	if binary == "" {
		binary = "mjml"
	}
	return &Renderer{binary: binary, timeout: timeout}
}

// Available reports whether the renderer can run at all.
func (r *Renderer) Available() error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return fmt.Errorf("%w: %s not installed", ErrDependencyMissing, r.binary)
	}
	return nil
}

// Render converts MJML source to HTML.
func (r *Renderer) Render(ctx context.Context, source string) (string, error) {
	if err := r.Available(); err != nil {
		return "", err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.binary, "-i", "-s")
	cmd.Stdin = strings.NewReader(source)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("mjml failed: %s", string(exitErr.Stderr))
		}
		return "", fmt.Errorf("mjml execution failed: %w", err)
	}
	return string(output), nil
}

// Dump writes the MJML source and rendered HTML side by side for
// inspection.
func Dump(dir, name, source, html string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dump dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".mjml"), []byte(source), 0o644); err != nil {
		return fmt.Errorf("write mjml dump: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".html"), []byte(html), 0o644); err != nil {
		return fmt.Errorf("write html dump: %w", err)
	}
	return nil
}
