// Netravend - NetRaven Job Orchestration Daemon
//
// Netravend runs scheduled and ad-hoc jobs (reachability checks, configuration
// backups) against fleets of network devices over SSH. State lives in
// PostgreSQL; the work queue and schedule registry live in Redis, so any
// number of worker processes can consume the same queue.
//
// Process roles:
//
//	netravend run         # scheduler + workers in one process
//	netravend scheduler   # scheduling control loop only
//	netravend worker      # queue consumers only
//	netravend migrate     # apply database schema migrations
//
// A deployment needs exactly one scheduler role and any number of worker
// roles pointed at the same Redis.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/driver"
	"github.com/netraven-io/netraven/pkg/util"
	"github.com/netraven-io/netraven/pkg/version"
)

var (
	configFile    string
	platformsFile string
	verbose       bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "netravend",
	Short:             "NetRaven job orchestration daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Netravend schedules and executes jobs against network device fleets.

Devices, credentials, jobs, results, and configuration snapshots are kept
in PostgreSQL; the work queue and schedule registry are kept in Redis.

  netravend -c /etc/netraven/config.yml run`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isVersionOrHelp(cmd) {
			return nil
		}
		if configFile != "" {
			if err := config.LoadConfig(configFile); err != nil {
				return fmt.Errorf("loading config %s: %w", configFile, err)
			}
		}

		level := config.GetLogLevel()
		if verbose {
			level = "debug"
		}
		if err := util.SetLogLevel(level); err != nil {
			return fmt.Errorf("setting log level: %w", err)
		}
		// Human-readable logs on a terminal, JSON under systemd or a container
		if !term.IsTerminal(int(os.Stderr.Fd())) {
			util.SetJSONFormat()
		}

		if platformsFile != "" {
			if err := driver.LoadPlatformOverlay(platformsFile); err != nil {
				return fmt.Errorf("loading platform overlay: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&platformsFile, "platforms", "", "Platform command table overlay (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(
		runCmd,
		schedulerCmd,
		workerCmd,
		migrateCmd,
		triggerCmd,
		jobTypesCmd,
		versionCmd,
	)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netravend %s\n", version.Info())
	},
}

// isVersionOrHelp checks whether cmd (or any ancestor) is a help or version
// command, which run without configuration.
func isVersionOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version":
			return true
		}
	}
	return false
}
