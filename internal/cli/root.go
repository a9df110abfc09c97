package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/logging"
)

var (
	flagConfig    string
	flagServer    string
	flagDB        string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking KSIM_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("KSIM_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the ksim CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ksim",
		Short: "ksim runs kernel thread scheduling scenarios",
		Long: `ksim runs YAML scheduling scenarios on a simulated uniprocessor kernel
with priority donation and an optional multi-level feedback queue scheduler,
checks their expectations and records the traces for inspection.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Default()
			if flagConfig != "" {
				loaded, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			flags := cmd.Flags()
			if flags.Changed("db") {
				cfg.Store.DBPath = flagDB
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = flagLogLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = flagLogFormat
			}
			if flagDebug {
				cfg.Log.Level = "debug"
			}
			if !logging.ValidFormat(cfg.Log.Format) {
				return fmt.Errorf("unknown log format %q", cfg.Log.Format)
			}

			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "ksim server URL (or KSIM_SERVER env)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Trace database path (default ~/.kthreads/trace.db)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json, plain)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newSubmitCmd(),
		newRunsCmd(),
		newShowCmd(),
		newEventsCmd(),
		newRmCmd(),
	)

	return root
}
