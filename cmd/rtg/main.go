// Package main provides the rtg CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/richinex/rtg/cli"
	"github.com/richinex/rtg/storage"
)

var (
	// Global flags
	configPath string
	provider   string
	dbPath     string
	verbose    bool

	logger *zap.Logger
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "rtg",
		Short: "Report template compiler and generator",
		Long: `Compile report templates against threat-model data and generate reports with an LLM.

Templates contain tokens such as {{PROJECT_KEY}}, {{COMPONENTS_JSON}} or
{{SEVERITY_BADGE:High}}. Compilation replaces them with values drawn from the
local database; submission sends the compiled prompt to a provider
(openai, anthropic, deepseek, gemini, ollama).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "Default LLM provider (openai, anthropic, deepseek, gemini, ollama)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default from config, .rtg/rtg.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(compileCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(reportsCmd())
	rootCmd.AddCommand(dataCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	opts := cli.DefaultOptions()
	opts.ConfigPath = configPath
	opts.Provider = provider
	opts.DBPath = dbPath
	if logger != nil {
		opts.Logger = logger
	}
	return opts
}

func addTemplateSourceFlags(cmd *cobra.Command, src *cli.TemplateSource) {
	cmd.Flags().StringVarP(&src.TemplateID, "template", "t", "", "Stored template ID or name (instead of a file)")
	cmd.Flags().StringVar(&src.TemplateID, "template-id", "", "Alias for --template")
	cmd.Flags().IntVar(&src.TemplateVersion, "template-version", 0, "Stored template version (default latest)")
}

func compileCmd() *cobra.Command {
	var copts cli.CompileOptions

	cmd := &cobra.Command{
		Use:   "compile [file]",
		Short: "Resolve template tokens and print the compiled text",
		Long: `Compile a template file, a stored template (--template) or stdin.

Filters are key=value pairs. author, ci_example, env, project_key,
resiliency_target, pipeline_steps, tags and aws_accounts override the
matching tokens; projectUuid, project_id or projectId scope the data to one
project. Warnings are printed to stderr.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				copts.File = args[0]
			}
			return cli.Compile(cmd.Context(), copts, options())
		},
	}

	addTemplateSourceFlags(cmd, &copts.TemplateSource)
	cmd.Flags().StringArrayVarP(&copts.Filters, "filter", "f", nil, "Filter key=value (repeatable)")
	cmd.Flags().BoolVar(&copts.JSON, "json", false, "Print the full result as JSON")
	cmd.Flags().BoolVarP(&copts.Watch, "watch", "w", false, "Recompile when the template file changes")

	return cmd
}

func submitCmd() *cobra.Command {
	var sopts cli.SubmitOptions

	cmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Compile a template and generate the report with an LLM",
		Long: `Compile a template, extract its prompt and send it to an LLM.

Lines of the form "PROMPT <text>", or a block opened by a "PROMPT" line and
closed by "END PROMPT", form the prompt. Without markers the whole compiled
text is sent. The global --provider flag selects the provider.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				sopts.File = args[0]
			}
			return cli.Submit(cmd.Context(), sopts, options())
		},
	}

	addTemplateSourceFlags(cmd, &sopts.TemplateSource)
	cmd.Flags().StringArrayVarP(&sopts.Filters, "filter", "f", nil, "Filter key=value (repeatable)")
	cmd.Flags().StringVarP(&sopts.Model, "model", "m", "", "Model for this submission (default from config)")
	cmd.Flags().BoolVar(&sopts.Save, "save", false, "Store the generated report")
	cmd.Flags().BoolVar(&sopts.Render, "render", false, "Render the report as Markdown in the terminal")
	cmd.Flags().BoolVar(&sopts.JSON, "json", false, "Print the full result as JSON")

	return cmd
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage stored report templates",
	}

	var overwrite bool
	importCmd := &cobra.Command{
		Use:   "import [dir]",
		Short: "Import every file in a directory as a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ImportTemplates(cmd.Context(), args[0], overwrite, options())
		},
	}
	importCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace content of existing templates")

	var lopts storage.ListOptions
	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List templates, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTemplates(cmd.Context(), lopts, listJSON, options())
		},
	}
	listCmd.Flags().StringVarP(&lopts.Query, "query", "q", "", "Filter by name substring")
	listCmd.Flags().IntVar(&lopts.Limit, "limit", 50, "Maximum templates to list")
	listCmd.Flags().IntVar(&lopts.Offset, "offset", 0, "Templates to skip")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print as JSON")

	var version int
	var showJSON bool
	showCmd := &cobra.Command{
		Use:   "show [id|name]",
		Short: "Print a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ShowTemplate(cmd.Context(), args[0], version, showJSON, options())
		},
	}
	showCmd.Flags().IntVar(&version, "version", 0, "Version to print (default latest)")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print as JSON")

	var vopts storage.ListOptions
	versionsCmd := &cobra.Command{
		Use:   "versions [id|name]",
		Short: "List the version history of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListVersions(cmd.Context(), args[0], vopts, options())
		},
	}
	versionsCmd.Flags().IntVar(&vopts.Limit, "limit", 50, "Maximum versions to list")

	deleteCmd := &cobra.Command{
		Use:   "delete [id|name]",
		Short: "Delete a template and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.DeleteTemplate(cmd.Context(), args[0], options())
		},
	}

	cmd.AddCommand(importCmd, listCmd, showCmd, versionsCmd, deleteCmd)
	return cmd
}

func reportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Browse generated reports",
	}

	var templateID, projectID string
	var lopts storage.ListOptions
	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List generated reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListReports(cmd.Context(), templateID, projectID, lopts, listJSON, options())
		},
	}
	listCmd.Flags().StringVar(&templateID, "template", "", "Only reports from this template ID")
	listCmd.Flags().StringVar(&projectID, "project", "", "Only reports for this project ID")
	listCmd.Flags().IntVar(&lopts.Limit, "limit", 50, "Maximum reports to list")
	listCmd.Flags().IntVar(&lopts.Offset, "offset", 0, "Reports to skip")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print as JSON")

	var render, showJSON bool
	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a generated report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ShowReport(cmd.Context(), args[0], render, showJSON, options())
		},
	}
	showCmd.Flags().BoolVar(&render, "render", false, "Render as Markdown in the terminal")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print as JSON")

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func dataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Manage the reporting dataset",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "load [file.yaml]",
		Short: "Load projects, components, threats, vulnerabilities, safeguards and incidents from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.LoadData(cmd.Context(), args[0], options())
		},
	})
	return cmd
}
