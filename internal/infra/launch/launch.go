// Package launch resolves the backend command line from the packaging
// layout the station binary finds itself in.
//
// Packaged installs ship an embedded interpreter next to the station:
//
//	<install>/bin/inspector
//	<install>/py_backend/python/python.exe   (python/bin/python3 off Windows)
//	<install>/py_backend/detector.py
//
// Development checkouts run the system interpreter against
// <project>/python/detector.py.
package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"label-inspector/internal/domain"
	"label-inspector/internal/infra/config"
)

const (
	packagedDirName = "py_backend"
	scriptName      = "detector.py"
)

// Host abstracts the process environment so resolution can be tested
// against a fake layout.
type Host struct {
	GOOS       string
	Executable func() (string, error)
	Getwd      func() (string, error)
	Exists     func(path string) bool
}

// SystemHost describes the running process.
func SystemHost() Host {
	return Host{
		GOOS:       runtime.GOOS,
		Executable: os.Executable,
		Getwd:      os.Getwd,
		Exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Resolve resolves cfg against the running process.
func Resolve(cfg config.LaunchConfig) (domain.LaunchSpec, error) {
	return ResolveOn(SystemHost(), cfg)
}

// ResolveOn resolves cfg against h. It does not check that the executable
// exists; the supervisor fails fast on that before spawning.
func ResolveOn(h Host, cfg config.LaunchConfig) (domain.LaunchSpec, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = config.LaunchAuto
	}

	var spec domain.LaunchSpec
	switch mode {
	case config.LaunchExternal:
		return domain.LaunchSpec{Mode: config.LaunchExternal}, nil
	case config.LaunchPackaged:
		root, err := packagedRoot(h, cfg)
		if err != nil {
			return domain.LaunchSpec{}, err
		}
		spec = packaged(h, root)
	case config.LaunchDevelopment:
		project, err := projectRoot(h, cfg)
		if err != nil {
			return domain.LaunchSpec{}, err
		}
		spec = development(h, project)
	case config.LaunchAuto:
		root, err := packagedRoot(h, cfg)
		if err == nil && h.Exists(filepath.Join(root, scriptName)) {
			spec = packaged(h, root)
			break
		}
		project, err := projectRoot(h, cfg)
		if err != nil {
			return domain.LaunchSpec{}, err
		}
		spec = development(h, project)
	default:
		return domain.LaunchSpec{}, domain.NewSubSystemError("launch", "launch.Resolve", domain.ErrInvalidInput, fmt.Sprintf("unknown mode %q", mode))
	}

	if cfg.Executable != "" {
		spec.Executable = cfg.Executable
	}
	if cfg.Script != "" {
		spec.Script = cfg.Script
	}
	if cfg.WorkDir != "" {
		spec.WorkDir = cfg.WorkDir
	}
	spec.Args = append([]string(nil), cfg.Args...)
	spec.Env = append(append([]string(nil), cfg.Env...), "PYTHONUNBUFFERED=1")
	return spec, nil
}

func packaged(h Host, root string) domain.LaunchSpec {
	exe := filepath.Join(root, "python", "bin", "python3")
	if h.GOOS == "windows" {
		exe = filepath.Join(root, "python", "python.exe")
	}
	return domain.LaunchSpec{
		Mode:       config.LaunchPackaged,
		Executable: exe,
		Script:     filepath.Join(root, scriptName),
		WorkDir:    root,
	}
}

func development(h Host, project string) domain.LaunchSpec {
	exe := "python3"
	if h.GOOS == "windows" {
		exe = "python"
	}
	dir := filepath.Join(project, "python")
	return domain.LaunchSpec{
		Mode:       config.LaunchDevelopment,
		Executable: exe,
		Script:     filepath.Join(dir, scriptName),
		WorkDir:    dir,
	}
}

func packagedRoot(h Host, cfg config.LaunchConfig) (string, error) {
	if cfg.BackendRoot != "" {
		return filepath.Clean(cfg.BackendRoot), nil
	}
	exe, err := h.Executable()
	if err != nil {
		return "", fmt.Errorf("locate station executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "..", packagedDirName), nil
}

func projectRoot(h Host, cfg config.LaunchConfig) (string, error) {
	if cfg.ProjectRoot != "" {
		return filepath.Clean(cfg.ProjectRoot), nil
	}
	wd, err := h.Getwd()
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	return wd, nil
}
