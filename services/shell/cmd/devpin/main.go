package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"devpin/infra/defaults"
	"devpin/pkg/descriptor"
	"devpin/pkg/platform"
	"devpin/services/shell"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	dir     string
	verbose bool
	logger  zerolog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "devpin",
		Short:         "Reproducible developer environments from pinned inputs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if opts.verbose {
				level = zerolog.DebugLevel
			}
			opts.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).
				With().Timestamp().Logger()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "Project directory holding devpin.yaml")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newShellCommand(opts))
	cmd.AddCommand(newLockCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newPlatformsCommand(opts))
	cmd.AddCommand(newInitCommand(opts))
	return cmd
}

func (o *rootOptions) config(platformFlag string) (shell.Config, error) {
	cfg := shell.Config{Dir: o.dir, Logger: o.logger}
	if platformFlag != "" {
		p, err := platform.Parse(platformFlag)
		if err != nil {
			return shell.Config{}, err
		}
		cfg.Platform = p
	}
	return cfg, nil
}

func newShellCommand(opts *rootOptions) *cobra.Command {
	var (
		platformFlag string
		printOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Resolve, pin, and enter the composed environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(platformFlag)
			if err != nil {
				return err
			}

			if printOnly {
				res, err := shell.Prepare(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				path, err := shell.WriteScript(res, opts.dir)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			return shell.Enter(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&platformFlag, "platform", "", "Target platform (defaults to the host)")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Write and print the activation script instead of entering a shell")
	return cmd
}

func newLockCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Resolve and pin every input, composing all platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config("")
			if err != nil {
				return err
			}

			res, err := shell.PrepareAll(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "locked %d inputs (digest %.12s)\n", len(res.Lock.Inputs), res.Lock.Digest)
			printComposition(out, res)

			if res.Composed.AllFailed() {
				return errors.New("composition failed on every platform")
			}
			return nil
		},
	}
	return cmd
}

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the lock still reproduces the descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config("")
			if err != nil {
				return err
			}

			report, err := shell.Verify(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.InSync() {
				fmt.Fprintf(out, "lock in sync (digest %.12s)\n", report.Locked)
				return nil
			}

			for _, name := range report.Changed {
				fmt.Fprintf(out, "drifted: %s\n", name)
			}
			return fmt.Errorf("lock out of sync: recorded %.12s, resolution yields %.12s", report.Locked, report.Resolved)
		},
	}
	return cmd
}

func newPlatformsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "Compose every platform and report availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config("")
			if err != nil {
				return err
			}

			res, err := shell.PrepareAll(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printComposition(cmd.OutOrStdout(), res)
			return nil
		},
	}
	return cmd
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter descriptor into the project directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(opts.dir, descriptor.DefaultFile)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, defaults.Descriptor(), 0o644); err != nil {
				return fmt.Errorf("write descriptor: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func printComposition(out io.Writer, res *shell.MultiResult) {
	for _, p := range res.Composed.Platforms() {
		if spec, ok := res.Composed.Specs[p]; ok {
			fmt.Fprintf(out, "%-16s ok      %s-%s\n", p, spec.Toolchain.Name, spec.Toolchain.Version)
			continue
		}
		fmt.Fprintf(out, "%-16s failed  %v\n", p, res.Composed.Errors[p])
	}
}
