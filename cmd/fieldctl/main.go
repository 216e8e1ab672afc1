package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/garnizeh/fieldops/internal/config"
	"github.com/garnizeh/fieldops/pkg/fieldops"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	baseURL    string
	token      string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "fieldctl",
		Short: "Operate on field-service work orders from the terminal",
		Long: `fieldctl talks to the field-operations backend with a dispatcher token
and reads timesheets from the local agent store.

The token is taken from --token or FIELDOPS_TOKEN.`,
		Version:       version + " (" + buildTime + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config YAML file")
	root.PersistentFlags().StringVar(&opts.baseURL, "backend", "", "Backend base URL (overrides config)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("FIELDOPS_TOKEN"), "Backend bearer token")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print raw JSON")

	root.AddCommand(
		newWorkOrdersCmd(opts),
		newCreateCmd(opts),
		newAssignCmd(opts),
		newDispatchCmd(opts),
		newTechniciansCmd(opts),
		newSummaryCmd(opts),
		newTimesheetCmd(opts),
	)
	return root
}

func (o *options) config() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		cfg.Backend.BaseURL = o.baseURL
	}
	return cfg, nil
}

func (o *options) client() (*fieldops.Client, error) {
	if o.token == "" {
		return nil, fmt.Errorf("a backend token is required (--token or FIELDOPS_TOKEN)")
	}
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	return fieldops.NewClient(cfg.Backend, nil, fieldops.StaticToken(o.token))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	// stdout is reserved for command output.
	fieldops.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
