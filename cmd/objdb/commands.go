package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andreyvit/objdb"
)

func NewDumpCommand(opts *RootOptions) *cobra.Command {
	var indices bool
	cmd := &cobra.Command{
		Use:   "dump [table...]",
		Short: "Print the rows of every table, or of the named tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			tables := args
			if len(tables) == 0 {
				for _, tbl := range db.Schema().Tables() {
					tables = append(tables, tbl.Name())
				}
			}

			if opts.YAML {
				out := make(map[string][]objdb.RowDump, len(tables))
				for _, name := range tables {
					rows, err := db.DumpRows(name)
					if err != nil {
						return err
					}
					out[name] = rows
				}
				return writeYAML(cmd.OutOrStdout(), out)
			}

			if len(args) == 0 {
				f := objdb.DumpAll
				if !indices {
					f &^= objdb.DumpIndices | objdb.DumpIndexRows
				}
				s, err := db.Dump(f)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), s)
				return nil
			}
			for _, name := range args {
				rows, err := db.DumpRows(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d rows)\n", name, len(rows))
				for _, rd := range rows {
					fmt.Fprintf(cmd.OutOrStdout(), "  %d (m%d) %v\n", rd.Key, rd.ModCount, rd.Values)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&indices, "indices", false, "include index contents")
	return cmd
}

func NewSchemaCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the schema stored in the file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if opts.YAML {
				return writeYAML(cmd.OutOrStdout(), map[string]any{
					"schema_version": db.SchemaVersion(),
					"tables":         db.Schema(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# schema version %d\n", db.SchemaVersion())
			fmt.Fprint(cmd.OutOrStdout(), db.Schema().String())
			return nil
		},
	}
}

type statsRow struct {
	Table      string `yaml:"table"`
	Rows       int    `yaml:"rows"`
	IndexRows  int    `yaml:"index_rows"`
	DataSize   int64  `yaml:"data_size"`
	IndexSize  int64  `yaml:"index_size"`
	TotalAlloc int64  `yaml:"total_alloc"`
}

func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print row counts and space usage per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.Stats()
			if err != nil {
				return err
			}
			size, err := db.Size()
			if err != nil {
				return err
			}
			rows := make([]statsRow, len(stats))
			for i, ts := range stats {
				rows[i] = statsRow{ts.Table, ts.Rows, ts.IndexRows, ts.DataSize, ts.IndexSize, ts.TotalAlloc()}
			}

			if opts.YAML {
				return writeYAML(cmd.OutOrStdout(), map[string]any{
					"file_size": size,
					"tables":    rows,
				})
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "table\trows\tindex rows\tdata\tindex\talloc\t")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t\n", r.Table, r.Rows, r.IndexRows, r.DataSize, r.IndexSize, r.TotalAlloc)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "file size: %d\n", size)
			return nil
		},
	}
}

func NewCompactCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the file without free pages",
		Long: `Rewrite the file without free pages and replace it atomically.

The file must not be open by any other process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, opt, err := opts.resolve(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			before, err := os.Stat(path)
			if err != nil {
				return err
			}
			if err := objdb.Compact(path, opt); err != nil {
				return err
			}
			after, err := os.Stat(path)
			if err != nil {
				return err
			}
			if opts.YAML {
				return writeYAML(cmd.OutOrStdout(), map[string]int64{
					"size_before": before.Size(),
					"size_after":  after.Size(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d -> %d bytes\n", path, before.Size(), after.Size())
			return nil
		},
	}
}
