/*
main.go - keyworker command-line entry point

PURPOSE:
  One binary for the key-worker service: the HTTP server with its nightly
  scheduler, one-off batch runs, and stats reports in the terminal.

COMMANDS:
  serve                      HTTP API + cron scheduler, graceful shutdown
  deallocate                 Run the release/transfer sweep once
  update-status              Return key workers from leave once
  stats staff <id> <prison>  One key worker's compliance
  stats prison [prison...]   Prison summaries (all migrated when none given)
  runs                       Batch-run history
  config                     Print the effective configuration

CONFIGURATION:
  Defaults, then --config YAML file, then KEYWORKER_* environment, then
  flags. See config/config.go for every key.

EXAMPLES:
  keyworker serve --port 9090
  KEYWORKER_DB_PATH=/data/kw.db keyworker deallocate
  keyworker stats prison MDI LEI --from 2024-01-01 --to 2024-01-31
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/keyworker-engine/config"
)

// v holds defaults, environment and bound flags for every command.
var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "keyworker",
	Short: "Key-worker allocation batch jobs and compliance statistics",
	Long: `keyworker keeps prison key-worker allocations in step with offender
movements and reports how often key workers meet their prisoners.

Nightly jobs:
- deallocate: ends allocations of offenders released or transferred since the
  last successful sweep, re-scanning a few days back for late movements.
- update-status: returns key workers to ACTIVE once their leave ends.

Reports:
- stats staff / stats prison: projected vs delivered sessions over a window.`,
	SilenceUsage: true,
}

func main() {
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("db", "", "SQLite database path (\":memory:\" for in-memory)")
	flags.String("prison-api", "", "Prison API base URL")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")
	flags.Bool("json", false, "output JSON instead of tables")

	_ = v.BindPFlag("db.path", flags.Lookup("db"))
	_ = v.BindPFlag("prison_api.base_url", flags.Lookup("prison-api"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindPFlag("json", flags.Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(deallocateCmd())
	rootCmd.AddCommand(updateStatusCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(configCmd())
}

// loadConfig reads the --config file (if any) on top of defaults,
// environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	return config.Load(v, file)
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
