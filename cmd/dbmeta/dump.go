package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dbmeta/internal/db"
	"dbmeta/internal/introspect"
	"dbmeta/internal/logger"
)

func newDumpCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Export the ERD model of the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			schema, err := a.dump(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, schema)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json, yaml")
	return cmd
}

func (a *app) dump(ctx context.Context) (introspect.Schema, error) {
	driver, dsn, err := a.target()
	if err != nil {
		return introspect.Schema{}, err
	}
	timeout := a.connectTimeout()
	if a.cfg.Cache.Prefetch {
		// Prefetch needs the connection to outlive it, so ConnectAndExtract
		// does not fit.
		conn, err := db.Connect(ctx, driver, dsn, timeout, a.settings())
		if err != nil {
			return introspect.Schema{}, err
		}
		defer conn.Close()
		if err := conn.Catalog.Prefetch(ctx, a.cfg.Cache.PrefetchWorkers); err != nil {
			return introspect.Schema{}, errors.Wrap(err, "prefetch")
		}
		return conn.Catalog.Extract(ctx)
	}
	logger.Debug("extracting %s schema", driver)
	return db.ConnectAndExtract(ctx, driver, dsn, timeout, a.settings())
}

func checkFormat(format string) error {
	switch format {
	case "json", "yaml":
		return nil
	}
	return errors.Newf("unsupported format %q (json, yaml)", format)
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "encode json")
	}
}
