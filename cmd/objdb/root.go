package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/objdb"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Path       string
	YAML       bool
	Verbose    bool
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "objdb",
		Short: "Inspect and maintain objdb files",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigPath == "" && opts.Path == "" {
				return errors.New("either --config or --path is required")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (JSON with comments)")
	cmd.PersistentFlags().StringVarP(&opts.Path, "path", "p", "", "database file; overrides the config's path")
	cmd.PersistentFlags().BoolVar(&opts.YAML, "yaml", false, "print YAML instead of text")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine events to stderr")

	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))
	return cmd
}

// resolve turns the flags into a file path and open options. A path in the
// config file is relative to the config file.
func (opts *RootOptions) resolve(stderr io.Writer) (string, objdb.Options, error) {
	var path string
	var opt objdb.Options
	if opts.ConfigPath != "" {
		cfg, err := objdb.LoadConfig(opts.ConfigPath)
		if err != nil {
			return "", opt, err
		}
		opt, err = cfg.Options()
		if err != nil {
			return "", opt, err
		}
		path = cfg.Path
		if path != "" && !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(opts.ConfigPath), path)
		}
	}
	if opts.Path != "" {
		path = opts.Path
	}
	if path == "" {
		return "", opt, errors.New("no database path given")
	}
	if opt.InMemory {
		return "", opt, fmt.Errorf("%s: in-memory stores only exist inside the process that opened them", path)
	}

	level := slog.LevelWarn
	if opts.Verbose || opt.Verbose {
		level = slog.LevelDebug
		opt.Verbose = true
	}
	opt.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return path, opt, nil
}

// open opens the file read-only with the schema stored in it.
func (opts *RootOptions) open(cmd *cobra.Command) (*objdb.DB, error) {
	path, opt, err := opts.resolve(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	opt.ReadOnly = true
	return objdb.OpenDynamic(path, opt)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
