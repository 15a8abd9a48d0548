package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir loads every .rego file in dir into the engine. A missing
// directory is not an error; it just means no policies.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read policy directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		code, err := os.ReadFile(path) // #nosec G304 -- path comes from the configured policy dir
		if err != nil {
			return fmt.Errorf("failed to read policy %s: %w", path, err)
		}

		name := strings.TrimSuffix(entry.Name(), ".rego")
		if err := e.LoadPolicy(ctx, name, string(code)); err != nil {
			return err
		}
	}

	return nil
}
