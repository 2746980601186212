// Command objdbgen generates objdb accessors for the model structs of a
// package. Use it from go:generate:
//
//	//go:generate go run github.com/andreyvit/objdb/cmd/objdbgen --schema AppSchema
package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/andreyvit/objdb/internal/weave"
)

const (
	exitOK = iota
	exitModel
	exitUsage
	exitIO
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("objdbgen", flag.ContinueOnError)
	schema := fs.String("schema", "Schema", "package-level *objdb.Schema the models are registered with")
	output := fs.StringP("output", "o", "objdb_gen.go", "output file name, relative to the package directory")
	check := fs.Bool("check", false, "only validate the models")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: objdbgen [options] [dir]

Generates DefineModel registrations and accessors for every struct in dir
(default: the current directory) that embeds objdb.Object.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	dir := "."
	switch fs.NArg() {
	case 0:
	case 1:
		dir = fs.Arg(0)
	default:
		fs.Usage()
		return exitUsage
	}

	outName := filepath.Base(*output)
	pkg, err := weave.ParseDir(dir, func(name string) bool { return name == outName })
	if err != nil {
		var werr *weave.Error
		if errors.As(err, &werr) {
			for _, p := range werr.Problems {
				fmt.Fprintln(os.Stderr, p.String())
			}
			return exitModel
		}
		fmt.Fprintf(os.Stderr, "objdbgen: %v\n", err)
		return exitIO
	}
	if len(pkg.Models) == 0 {
		fmt.Fprintf(os.Stderr, "objdbgen: %s: no types embed objdb.Object\n", dir)
		return exitModel
	}
	if *check {
		return exitOK
	}

	src, err := weave.Generate(pkg, weave.GenerateOptions{Schema: *schema})
	if err != nil {
		fmt.Fprintf(os.Stderr, "objdbgen: %v\n", err)
		return exitIO
	}
	outPath := filepath.Join(dir, *output)
	if old, err := os.ReadFile(outPath); err == nil && bytes.Equal(old, src) {
		return exitOK
	}
	if err := atomic.WriteFile(outPath, bytes.NewReader(src)); err != nil {
		fmt.Fprintf(os.Stderr, "objdbgen: %v\n", err)
		return exitIO
	}
	return exitOK
}
