package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dbmeta/internal/db"
	"dbmeta/internal/navigator"
)

func newTreeCommand(a *app) *cobra.Command {
	var (
		depth  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Print the metadata tree below path",
		Long: `Prints the object graph starting at path, e.g. "shop/dbo/tables/orders".
A "/" inside a name is written as "~1" and a "~" as "~0". A negative depth
prints the whole subtree.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			if format != "text" {
				if err := checkFormat(format); err != nil {
					return err
				}
			}
			return a.tree(cmd.Context(), cmd.OutOrStdout(), path, depth, format)
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 1, "levels below path to print")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json, yaml")
	return cmd
}

func (a *app) tree(ctx context.Context, w io.Writer, path string, depth int, format string) error {
	driver, dsn, err := a.target()
	if err != nil {
		return err
	}
	conn, err := db.Connect(ctx, driver, dsn, a.connectTimeout(), a.settings())
	if err != nil {
		return err
	}
	defer conn.Close()

	n, err := navigator.Resolve(ctx, conn.Catalog.Root(), path)
	if err != nil {
		return err
	}
	if format != "text" {
		info, err := navigator.Describe(ctx, n, depth)
		if err != nil {
			return err
		}
		return render(w, format, info)
	}
	return navigator.Walk(ctx, n, depth, func(_ string, level int, n navigator.Node) error {
		_, err := fmt.Fprintf(w, "%s%s [%s]%s\n", strings.Repeat("  ", level), n.Name(), n.Kind(), caps(n))
		return err
	})
}

func caps(n navigator.Node) string {
	c := n.Capabilities()
	if c == 0 {
		return ""
	}
	return " " + c.String()
}
