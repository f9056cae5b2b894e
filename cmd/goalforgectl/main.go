package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goalforge/internal/config"
	"goalforge/internal/logging"
	"goalforge/pkg/goalforge"
)

func main() {
	// A missing .env is fine; the environment and config file still apply.
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd(out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type cli struct {
	out          io.Writer
	configPath   string
	verbose      bool
	storeKind    string
	dbPath       string
	artifactsDir string
	exportsDir   string
	jsonOut      bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "goalforgectl",
		Short:         "Replay search runs through exception-driven goal enhancement",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "goalforge.yaml", "config file path")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&c.storeKind, "store", "", "store backend: memory|leveldb|sqlite (overrides config)")
	flags.StringVar(&c.dbPath, "db-path", "", "store path (overrides config)")
	flags.StringVar(&c.artifactsDir, "artifacts-dir", "runs", "run artifacts and index directory")
	flags.StringVar(&c.exportsDir, "exports-dir", "exports", "default export destination")
	flags.BoolVar(&c.jsonOut, "json", false, "emit JSON")

	root.AddCommand(
		c.runCmd(),
		c.fitnessCmd(),
		c.showCmd(),
		c.tablesCmd(),
		c.handledCmd(),
		c.diagnosticsCmd(),
		c.runsCmd(),
		c.exportCmd(),
		c.configCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Kind = c.storeKind
	}
	if cmd.Flags().Changed("db-path") {
		cfg.Store.Path = c.dbPath
	}
	logger, err := logging.New(cfg.Logging.Level, c.verbose)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

func (c *cli) client() (*goalforge.Client, error) {
	return goalforge.New(goalforge.Options{
		StoreKind:    c.cfg.Store.Kind,
		DBPath:       c.cfg.Store.Path,
		ArtifactsDir: c.artifactsDir,
		ExportsDir:   c.exportsDir,
		Logger:       c.logger,
	})
}

// withClient opens a client for the duration of fn.
func (c *cli) withClient(fn func(*goalforge.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	return fn(client)
}

func (c *cli) writeJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
