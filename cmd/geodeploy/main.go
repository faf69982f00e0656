package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	return &exitError{code: code, err: err}
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "error: %v\n", ee.err)
		return ee.code
	}
	var se *ServerError
	if errors.As(err, &se) {
		fmt.Fprintf(stderr, "error: %v\n", se)
		return se.ExitCode
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitConfigError
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "geodeploy",
		Short:         "Geo-distributed deployment orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	root.AddCommand(
		newServeCommand(&configPath),
		newVersionCommand(),
		newValidateCommand(&configPath),
		newAuditCommand(&configPath),
	)
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return withExit(ExitConfigError, err)
			}

			logger := SetupLogger(cfg, cmd.OutOrStdout())
			logger.Info("starting geodeploy",
				"version", Version,
				"config", *configPath,
			)

			server, err := NewServer(cfg, logger)
			if err != nil {
				return err
			}
			return server.Start(context.Background())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "geodeploy %s (built %s)\n", Version, BuildTime)
		},
	}
}

func newValidateCommand(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a deployment config against the region catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return withExit(ExitConfigError, err)
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return withExit(ExitConfigError, err)
				}
				defer f.Close()
				in = f
			}
			return validateDeployment(cfg, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Deployment config JSON (- for stdin)")
	return cmd
}

func newAuditCommand(configPath *string) *cobra.Command {
	var region, regulation string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run a compliance audit and record it in the audit ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return withExit(ExitConfigError, err)
			}
			logger := SetupLogger(cfg, cmd.ErrOrStderr())
			return runAudit(cmd.Context(), cfg, logger, region, regulation, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "Region to audit")
	cmd.Flags().StringVar(&regulation, "regulation", "", "Regulation to audit, e.g. GDPR")
	_ = cmd.MarkFlagRequired("region")
	_ = cmd.MarkFlagRequired("regulation")
	return cmd
}
