// Package locator resolves paths relative to the running application's
// installation directory.
//
// The host is started by a desktop shell, a file manager or an installer
// shortcut, so its working directory is not under its control. Every path the
// launcher hands to the OS is therefore anchored at the directory holding the
// launcher's own executable.
package locator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	stdruntime "runtime"
)

// DefaultBinDir is the subdirectory of the install directory that holds the
// backend executable.
const DefaultBinDir = "bin"

// ErrPathResolution reports that the install directory could not be
// determined.
var ErrPathResolution = errors.New("path resolution failed")

// Locator resolves paths against the installation directory.
type Locator struct {
	executable func() (string, error)
	goos       string
}

// Option configures a Locator.
type Option func(*Locator)

// WithExecutable overrides how the running executable's path is discovered.
func WithExecutable(fn func() (string, error)) Option {
	return func(l *Locator) {
		if fn != nil {
			l.executable = fn
		}
	}
}

// WithGOOS overrides the target operating system used for executable suffix
// rules.
func WithGOOS(goos string) Option {
	return func(l *Locator) {
		if goos != "" {
			l.goos = goos
		}
	}
}

// New constructs a Locator backed by os.Executable.
func New(opts ...Option) *Locator {
	l := &Locator{executable: os.Executable, goos: stdruntime.GOOS}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// InstallDir returns the directory containing the running executable with
// symlinks resolved.
func (l *Locator) InstallDir() (string, error) {
	exe, err := l.executable()
	if err != nil {
		return "", fmt.Errorf("%w: locate executable: %v", ErrPathResolution, err)
	}
	if exe == "" {
		return "", fmt.Errorf("%w: executable path is empty", ErrPathResolution)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	if !filepath.IsAbs(exe) {
		abs, err := filepath.Abs(exe)
		if err != nil {
			return "", fmt.Errorf("%w: absolute executable path: %v", ErrPathResolution, err)
		}
		exe = abs
	}
	return filepath.Dir(exe), nil
}

// Resolve anchors rel at the install directory. Absolute paths are returned
// cleaned and unchanged.
func (l *Locator) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathResolution)
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel), nil
	}
	dir, err := l.InstallDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

// ResolveExecutable resolves rel like Resolve and appends the platform's
// executable suffix when rel has no extension.
func (l *Locator) ResolveExecutable(rel string) (string, error) {
	path, err := l.Resolve(rel)
	if err != nil {
		return "", err
	}
	if l.goos == "windows" && filepath.Ext(path) == "" {
		path += ".exe"
	}
	return path, nil
}
