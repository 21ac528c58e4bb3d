package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/homelab-assistant/internal/defaults"
)

// runInit writes a starter config.yaml and .env.example into dir.
// Existing files are never overwritten. config.yaml may end up holding
// secrets, so it is created owner-only.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing homelab assistant config in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	files := []struct {
		name    string
		content []byte
		perm    os.FileMode
	}{
		{"config.yaml", defaults.ConfigYAML, 0o600},
		{".env.example", defaults.EnvExample, 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		created, err := writeIfMissing(path, f.content, f.perm)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(w, "  ✓ %s\n", path)
		} else {
			fmt.Fprintf(w, "  - %s (exists, skipped)\n", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Copy .env.example to .env, add your API keys, then start the services.")
	return nil
}

// writeIfMissing writes content to path only if nothing is there yet.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, f.Close()
}
