package main

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"dbmeta/internal/cache"
	"dbmeta/internal/db"
	"dbmeta/internal/logger"
	"dbmeta/internal/metrics"
	"dbmeta/pkg/config"
)

// app holds what every command shares: the flags of the root command and
// the configuration they resolve to.
type app struct {
	cfgPath string
	driver  string
	dsn     string
	scope   string
	timeout int

	cfg      config.AppConfig
	registry *prometheus.Registry
	observer *metrics.Observer
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dbmeta",
		Short: "Browse and export database metadata",
		Long: `dbmeta reads the catalog of a relational database (SQL Server, PostgreSQL,
MySQL, SQLite, Oracle) into an in-memory metadata graph. The graph can be
browsed as a tree, exported for an ERD or served over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgPath, "config", "", "path to config YAML")
	f.StringVar(&a.driver, "driver", "", "db driver override (postgres,mysql,sqlite,sqlserver,godror)")
	f.StringVar(&a.dsn, "dsn", "", "dsn override")
	f.StringVar(&a.scope, "scope", "", "default database (sqlserver) or schema (other dialects) to restrict the catalog to")
	f.IntVar(&a.timeout, "timeout", 0, "db connect timeout seconds (default: cache.query_timeout)")

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newTreeCommand(a))
	root.AddCommand(newDumpCommand(a))
	root.AddCommand(newDialectsCommand())
	return root
}

// load reads the config file, applies the logging section and builds the
// metrics registry.
func (a *app) load() error {
	var err error
	if a.cfgPath != "" {
		a.cfg, err = config.LoadFile(a.cfgPath)
	} else {
		a.cfg, err = config.Default()
	}
	if err != nil {
		return err
	}
	if err := logger.Configure(a.cfg.Log.Level, a.cfg.Log.Format); err != nil {
		return err
	}
	if a.cfgPath != "" {
		logger.Debug("config file %s", a.cfgPath)
	}

	// CLI overrides replace the whole database section.
	if a.driver != "" && a.dsn != "" {
		a.cfg.Database = config.DBConfig{Type: a.driver, DSN: a.dsn}
	} else if a.driver != "" || a.dsn != "" {
		return errors.New("--driver and --dsn must be given together")
	}

	a.registry = prometheus.NewRegistry()
	a.observer = metrics.New(a.registry)
	return nil
}

// target returns the driver and DSN to connect to.
func (a *app) target() (string, string, error) {
	if a.cfg.Database.Type == "" {
		return "", "", errors.New("no database configured; use --config or --driver and --dsn")
	}
	return config.BuildDriverAndDSN(a.cfg.Database)
}

func (a *app) connectTimeout() time.Duration {
	if a.timeout > 0 {
		return time.Duration(a.timeout) * time.Second
	}
	if a.cfg.Cache.QueryTimeout > 0 {
		return time.Duration(a.cfg.Cache.QueryTimeout) * time.Second
	}
	return 10 * time.Second
}

func (a *app) settings() db.Settings {
	opts := []cache.Option{cache.WithObserver(a.observer)}
	if a.cfg.Cache.FoldKeys {
		opts = append(opts, cache.WithFoldedKeys())
	}
	return db.Settings{Database: a.scope, Options: opts}
}
