package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GuanceCloud/mkdocs-auto-translation/internal/cli"
	"github.com/GuanceCloud/mkdocs-auto-translation/internal/dify"
	"github.com/GuanceCloud/mkdocs-auto-translation/internal/dispatch"
	"github.com/GuanceCloud/mkdocs-auto-translation/internal/ledger"
	"github.com/GuanceCloud/mkdocs-auto-translation/internal/scanner"
)

func main() {
	// Create flags instance
	flags := cli.NewFlags()

	// Create root command
	rootCmd := cli.CreateRootCommand(flags)

	// Set up command initialization
	cobra.OnInitialize(func() {
		cli.InitConfig(flags.CfgFile)
	})

	// Set the run function
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args, flags)
	}

	// Execute command
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCommand(cmd *cobra.Command, args []string, flags *cli.Flags) error {
	// Fold config-file and environment values into the flags
	cli.ResolveFlags(flags)

	cleanup, err := cli.InitLogging(flags.LogFile)
	if err != nil {
		return err
	}
	defer cleanup()

	// A missing credential is fatal before any work begins
	apiKey := cli.GetAPIKey(flags)
	client, err := dify.NewClient(dify.Config{
		APIKey:              apiKey,
		Endpoint:            flags.APIEndpoint,
		User:                flags.User,
		Query:               flags.Query,
		ResponseMode:        flags.ResponseMode,
		MaxCompletionTokens: flags.MaxCompletionTokens,
		RequestsPerMinute:   flags.RequestsPerMinute,
	})
	if err != nil {
		return err
	}

	// Long-lived ledger carries fingerprints across runs; the per-run
	// ledger is cleared here so it records only what this run touched
	store, err := ledger.Open(filepath.Join(flags.SourceDir, "metadata.json"), flags.SourceDir)
	if err != nil {
		return err
	}
	runStore, err := ledger.Open(filepath.Join(flags.SourceDir, "metadata.run.json"), flags.SourceDir)
	if err != nil {
		return err
	}
	if err := runStore.Clear(); err != nil {
		return err
	}

	blacklist, err := scanner.LoadBlacklist(flags.BlacklistFile)
	if err != nil {
		return err
	}

	files, err := scanner.TranslatableFiles(flags.SourceDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(flags.TargetDir, 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	if err := scanner.CopyResources(flags.SourceDir, flags.TargetDir); err != nil {
		return fmt.Errorf("failed to copy resources: %w", err)
	}

	eligible, ioFailed := dispatch.FilterEligible(files, blacklist, store, flags.TargetLang)
	skipped := len(files) - len(eligible) - ioFailed

	fmt.Printf("Found %d translatable files, %d need translation\n", len(files), len(eligible))

	sched := &dispatch.Scheduler{
		SourceDir:      flags.SourceDir,
		TargetDir:      flags.TargetDir,
		TargetLanguage: flags.TargetLang,
		Workers:        flags.Workers,
		Translator:     client,
		Stores:         []dispatch.Store{store, runStore},
	}
	summary := sched.Run(context.Background(), eligible)
	summary.Failed += ioFailed

	// Print summary
	fmt.Printf("\n=== Translation Summary ===\n")
	fmt.Printf("Total files: %d\n", len(files))
	fmt.Printf("Translated: %d\n", summary.Succeeded)
	fmt.Printf("Skipped (up to date or excluded): %d\n", skipped)
	if summary.Failed > 0 {
		fmt.Printf("Failed: %d\n", summary.Failed)
	}
	fmt.Printf("===========================\n")

	return nil
}
