package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"devpin/pkg/fetch"
	gos3 "devpin/pkg/s3"
	"devpin/services/bundler"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "devpinctl",
		Short:         "Utility for managing devpin air-gap bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newBundlesCommand())
	return cmd
}

func newBundlesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "Bundle build and import operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBundlesBuildCommand())
	cmd.AddCommand(newBundlesImportCommand())
	return cmd
}

func openStore(root string) (*fetch.Store, error) {
	if root == "" {
		var err error
		root, err = fetch.DefaultRoot()
		if err != nil {
			return nil, err
		}
	}
	return fetch.NewStore(root)
}

func newBundlesBuildCommand() *cobra.Command {
	var (
		projectDir string
		storeRoot  string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Create a signed bundle from a locked project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			signer, err := bundler.NewSignerFromEnv()
			if err != nil {
				return err
			}
			store, err := openStore(storeRoot)
			if err != nil {
				return err
			}
			_, err = bundler.Build(ctx, bundler.BuildConfig{
				ProjectDir: projectDir,
				Output:     output,
				Store:      store,
				Signer:     signer,
				Stdout:     os.Stdout,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", ".", "Project directory holding devpin.yaml and devpin.lock")
	cmd.Flags().StringVar(&storeRoot, "store", "", "Snapshot store root (defaults to the user cache)")
	cmd.Flags().StringVar(&output, "output", "", "Destination bundle file (tar.zst)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBundlesImportCommand() *cobra.Command {
	var (
		bundleFile string
		storeRoot  string
		projectDir string
		apiBaseURL string
		bucket     string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Verify a signed bundle and seed the local snapshot store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			signer, err := bundler.NewSignerFromEnv()
			if err != nil {
				return err
			}
			store, err := openStore(storeRoot)
			if err != nil {
				return err
			}

			var s3Client *gos3.Client
			if apiBaseURL != "" || bucket != "" {
				s3Client, err = gos3.NewClientFromEnv()
				if err != nil {
					return fmt.Errorf("s3 client: %w", err)
				}
			}

			_, err = bundler.Import(ctx, bundler.ImportConfig{
				BundlePath: bundleFile,
				Store:      store,
				ProjectDir: projectDir,
				APIBaseURL: apiBaseURL,
				Bucket:     bucket,
				S3:         s3Client,
				Signer:     signer,
				Stdout:     os.Stdout,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&bundleFile, "file", "", "Path to the bundle tar.zst")
	cmd.Flags().StringVar(&storeRoot, "store", "", "Snapshot store root (defaults to the user cache)")
	cmd.Flags().StringVar(&projectDir, "project", "", "Materialize the bundled descriptor and lock into this directory")
	cmd.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of envd to register snapshots with (e.g. https://envd.example.com)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Mirror snapshots directly to this S3 bucket when no API is set")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
