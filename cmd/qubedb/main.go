// Command qubedb is a shell around the embedded engine: run SQL against a
// data directory and inspect its state.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wahyudedik/qubedb"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir string
	var verbose bool

	root := &cobra.Command{
		Use:           "qubedb",
		Short:         "Embedded multi-model database engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&dir, "dir", "d", "", "data directory (required)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity")
	_ = root.MarkPersistentFlagRequired("dir")

	open := func() (*qubedb.DB, error) {
		return qubedb.Open(dir, func(o *qubedb.Options) {
			if verbose {
				o.Logger = qubedb.NewTextLogger(os.Stderr, slog.LevelDebug)
			} else {
				o.Logger = qubedb.NewNoopLogger()
			}
		})
	}

	root.AddCommand(newExecCmd(open), newInfoCmd(open))
	return root
}

func newExecCmd(open func() (*qubedb.DB, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "exec \"SQL\" [\"SQL\"...]",
		Short: "Run SQL statements and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			for _, query := range args {
				res, err := db.Execute(cmd.Context(), query)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
}

func printResult(out io.Writer, res *qubedb.Result) {
	if len(res.Columns) == 0 {
		fmt.Fprintf(out, "ok (%d rows affected)\n", res.RowsAffected)
		return
	}
	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = row[col].String()
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	fmt.Fprintf(out, "(%d rows)\n", len(res.Rows))
}

func newInfoCmd(open func() (*qubedb.DB, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Describe the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			info := db.Info()
			sort.Strings(info.Tables)
			sort.Strings(info.Collections)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "instance:   ", info.InstanceID)
			fmt.Fprintln(out, "page size:  ", info.PageSize)
			fmt.Fprintln(out, "wal bytes:  ", info.WALBytes)
			fmt.Fprintf(out, "buffer pool: %d bytes in %d pages\n", info.PoolBytes, info.PoolPages)
			fmt.Fprintln(out, "tables:     ", strings.Join(info.Tables, ", "))
			fmt.Fprintln(out, "collections:", strings.Join(info.Collections, ", "))
			return nil
		},
	}
}
