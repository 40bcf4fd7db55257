// Package locate finds the worker binary for the current platform and
// verifies it against an optional BLAKE3 pin.
package locate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/zeebo/blake3"
)

// BaseName is the worker binary name without a platform suffix.
const BaseName = "tether-worker"

// ErrNotFound is returned when no worker binary can be resolved.
var ErrNotFound = errors.New("worker binary not found")

// Options control worker resolution.
type Options struct {
	// Path is an explicit binary path. When set, Dir and $PATH are ignored.
	Path string
	// Dir holds platform-suffixed binaries.
	Dir string
	// Checksum is an optional hex BLAKE3 digest the binary must match.
	Checksum string

	GOOS   string
	GOARCH string
}

// PlatformName returns the platform-suffixed binary name, e.g.
// tether-worker-linux-x64.
func PlatformName(goos, goarch string) string {
	arch := goarch
	if goarch == "amd64" {
		arch = "x64"
	}
	name := fmt.Sprintf("%s-%s-%s", BaseName, goos, arch)
	if goos == "windows" {
		name += ".exe"
	}
	return name
}

// Resolve returns the absolute path of the worker binary. Lookup order is
// the explicit path, then <Dir>/<platform name>, then BaseName on $PATH.
// The checksum, when set, is verified on whichever path is chosen.
func Resolve(opts Options) (string, error) {
	goos, goarch := opts.GOOS, opts.GOARCH
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}

	var path string
	switch {
	case opts.Path != "":
		if !isExecutable(opts.Path) {
			return "", fmt.Errorf("%w: %s is not an executable file", ErrNotFound, opts.Path)
		}
		path = opts.Path
	default:
		var tried []string
		if opts.Dir != "" {
			candidate := filepath.Join(opts.Dir, PlatformName(goos, goarch))
			tried = append(tried, candidate)
			if isExecutable(candidate) {
				path = candidate
			}
		}
		if path == "" {
			found, err := exec.LookPath(BaseName)
			if err != nil {
				tried = append(tried, BaseName+" on $PATH")
				return "", fmt.Errorf("%w (tried %s)", ErrNotFound, strings.Join(tried, ", "))
			}
			path = found
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve worker path %q: %w", path, err)
	}

	if opts.Checksum != "" {
		if err := Verify(abs, opts.Checksum); err != nil {
			return "", err
		}
	}
	return abs, nil
}

// Hash computes the hex BLAKE3 digest of a file.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks a file against an expected hex BLAKE3 digest.
func Verify(path, expected string) error {
	actual, err := Hash(path)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s", filepath.Base(path), expected, actual)
	}
	return nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
