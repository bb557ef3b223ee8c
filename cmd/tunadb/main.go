// Command tunadb is the process entrypoint: parse flags, boot one
// engine.Engine, and either serve it over the network or drive it from a
// one-shot client. SQL parsing, the interactive console's
// `explain`/`compile`/`sample` prefixes, and the web client are all out of
// scope: the client subcommand here only ever sends raw text (dot-commands,
// or a query the server reports as not implemented).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pingcap/tunadb/config"
	"github.com/pingcap/tunadb/engine"
	"github.com/pingcap/tunadb/logutil"
	"github.com/pingcap/tunadb/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		cores      int
		coreOrder  string
		prefetch   int
		port       int
		loadFile   string
		logLevel   string
		logFile    string
	)

	root := &cobra.Command{
		Use:     "tunadb",
		Short:   "An in-memory analytical database server.",
		Version: "0.1.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flags always take priority over the config file: each flag,
			// default value included, overwrites its field, except --load
			// and --log-file, which only override the file when set.
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.Cores = cores
			cfg.CoreOrdering = config.CoreOrdering(coreOrder)
			cfg.PrefetchDistance = prefetch
			cfg.Port = port
			if loadFile != "" {
				cfg.LoadFile = loadFile
			}
			cfg.LogLevel = logLevel
			if logFile != "" {
				cfg.LogFile = logFile
			}
			return runServer(cfg)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML configuration file.")
	root.Flags().IntVar(&cores, "cores", 0, "Number of cores used for executing tasks (0 = all detected).")
	root.Flags().StringVar(&coreOrder, "core-order", "ascending", "How to order cores (ascending, numa, physical-then-smt).")
	root.Flags().IntVar(&prefetch, "prefetch-distance", -1, "Fixed software-prefetch distance, or -1 for automatic.")
	root.Flags().IntVarP(&port, "port", "p", 9090, "Port the server listens on.")
	root.Flags().StringVar(&loadFile, "load", "", "Restore a persisted database snapshot on startup.")
	root.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error.")
	root.Flags().StringVar(&logFile, "log-file", "", "Optional rotated log file, in addition to stderr.")

	root.AddCommand(newClientCommand())
	return root
}

func runServer(cfg config.Config) error {
	if err := logutil.Init(logutil.Config{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		return err
	}

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer e.Stop()

	if cfg.LoadFile != "" {
		if err := e.Restore(cfg.LoadFile); err != nil {
			return fmt.Errorf("restoring %s: %w", cfg.LoadFile, err)
		}
	}

	srv := server.New(e)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Port)) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		return srv.Close()
	}
}
