package shell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"devpin/pkg/render"
)

// ScriptName is the activation script file name under StateDir.
const ScriptName = "activate.sh"

// Enter prepares the session, writes the activation script, reports the
// session when a reporter is configured, and hands the process over to
// the user's shell. On success it does not return.
func Enter(ctx context.Context, cfg Config) error {
	res, err := Prepare(ctx, cfg)
	if err != nil {
		return err
	}

	engine, err := render.New()
	if err != nil {
		return err
	}

	script, err := res.Env.Script(engine)
	if err != nil {
		return err
	}
	if _, err := writeScript(projectDir(&cfg), script); err != nil {
		return err
	}

	if banner, err := res.Env.Banner(engine); err == nil {
		fmt.Fprint(os.Stderr, banner)
	}

	if rep := NewReporterFromEnv(cfg.Logger); rep != nil {
		reportCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rep.Report(reportCtx, res.Env); err != nil {
			cfg.Logger.Warn().Err(err).Msg("session report failed")
		}
		cancel()
	}

	return execShell(res.Env)
}

// WriteScript renders the activation script for a prepared session and
// writes it under the project state dir, returning its path.
func WriteScript(res *Result, dir string) (string, error) {
	engine, err := render.New()
	if err != nil {
		return "", err
	}
	script, err := res.Env.Script(engine)
	if err != nil {
		return "", err
	}
	return writeScript(dir, script)
}

func writeScript(dir, script string) (string, error) {
	stateDir := filepath.Join(dir, StateDir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(stateDir, ScriptName)
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("write activation script: %w", err)
	}
	return path, nil
}
