package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/greenworks/execdash/internal/api"
	"github.com/greenworks/execdash/internal/config"
	"github.com/greenworks/execdash/internal/ingest"
	"github.com/greenworks/execdash/internal/logging"
	"github.com/greenworks/execdash/internal/storage"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run an ETL sweep",
	Long: `Run an ETL sweep of one source or all of them.

By default the sweep runs on the server and the command waits for the ledger
row. --async queues it for the server's worker instead; --local runs it in
this process against the configured store without a server.

Examples:
  execdash ingest
  execdash ingest --source calls
  execdash ingest --source isn --async
  execdash ingest --local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		local, _ := cmd.Flags().GetBool("local")
		async, _ := cmd.Flags().GetBool("async")

		scope, err := ingest.ParseScope(source)
		if err != nil {
			return err
		}
		if local && async {
			return fmt.Errorf("--local and --async are mutually exclusive")
		}

		if local {
			return ingestLocal(cmd.Context(), scope)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return ingestRemote(cmd.Context(), client, scope, async)
	},
}

func init() {
	ingestCmd.Flags().String("source", ingest.ScopeAll, "calls, leads, inspections or all")
	ingestCmd.Flags().Bool("local", false, "run the sweep in-process instead of on the server")
	ingestCmd.Flags().Bool("async", false, "queue the sweep and return immediately")
}

func ingestRemote(ctx context.Context, client *apiClient, scope string, async bool) error {
	path := "/ingest"
	if async {
		path += "?async=true"
	}
	printStep("Sweeping %s...", scope)
	resp, err := client.post(ctx, path, api.IngestRequest{Source: scope})
	if err != nil {
		return err
	}

	if async {
		var result struct {
			JobID string `json:"job_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued %s sweep as job %s", scope, result.JobID)
		return nil
	}

	var result api.IngestResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	return reportSweep(os.Stdout, ingest.Result{
		RunID:   result.RunID,
		Scope:   result.Scope,
		Status:  result.Status,
		Details: result.Results,
	})
}

func ingestLocal(ctx context.Context, scope string) error {
	cfg, err := config.LoadUnchecked()
	if err != nil {
		return err
	}
	logger, flush, err := logging.Install(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer flush()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	printStep("Sweeping %s locally...", scope)
	res, err := a.sweeper.Sweep(ctx, scope)
	if err != nil {
		return err
	}
	return reportSweep(os.Stdout, res)
}

func reportSweep(w io.Writer, res ingest.Result) error {
	d := res.Details
	fmt.Fprintf(w, "run %s  %s  calls=%d messages=%d leads=%d inspections=%d skipped=%d\n",
		res.RunID, runStatus(res.Status), d.Calls, d.Messages, d.Leads, d.Inspections, d.Skipped)
	for _, e := range d.Errors {
		printError("%s", e)
	}
	if !res.Success() {
		return fmt.Errorf("%s sweep finished with %d error(s)", res.Scope, len(d.Errors))
	}
	printSuccess("%s sweep succeeded", res.Scope)
	return nil
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the ETL run ledger",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent ETL runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		source, _ := cmd.Flags().GetString("source")
		status, _ := cmd.Flags().GetString("status")

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if source != "" {
			q.Set("source", source)
		}
		if status != "" {
			q.Set("status", status)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/etl-runs?"+q.Encode())
		if err != nil {
			return err
		}

		var runs []storage.EtlRun
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}
		for _, r := range runs {
			writeRunLine(os.Stdout, r)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single ETL run and its per-source runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/etl-runs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var run api.RunView
		if err := decodeJSON(resp, &run); err != nil {
			return err
		}
		return printJSON(os.Stdout, run)
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsListCmd.Flags().String("source", "", "filter by source (calls, leads, inspections, all)")
	runsListCmd.Flags().String("status", "", "filter by status (running, success, failed)")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics [group]",
	Short: "Print dashboard metrics (calls, botCalls, inspections or all)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")

		path := "/dashboard/metrics"
		if len(args) == 1 && args[0] != "all" {
			path += "/" + url.PathEscape(args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if refresh {
			resp, err := client.post(cmd.Context(), "/dashboard/metrics/refresh", nil)
			if err != nil {
				return err
			}
			var ok map[string]any
			if err := decodeJSON(resp, &ok); err != nil {
				return err
			}
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var metrics any
		if err := decodeJSON(resp, &metrics); err != nil {
			return err
		}
		return printJSON(os.Stdout, metrics)
	},
}

func init() {
	metricsCmd.Flags().Bool("refresh", false, "clear the server's metric cache first")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}

		fmt.Printf("  %s\n", colorize(colorCyan, "# "+config.FilePath()))
		for _, k := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", colorize(colorBold, k.Key), k.Value)
			if k.EnvVar != "" {
				line += colorize(colorCyan, "  ($"+k.EnvVar+")")
			}
			fmt.Println(line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Long: `Set a configuration value in the config file.

Secrets (API keys, tokens, DSNs) are read from the environment only.

Valid keys:
  ` + strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
