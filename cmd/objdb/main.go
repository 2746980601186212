// Command objdb inspects and maintains objdb files.
package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "objdb: %v\n", err)
		os.Exit(1)
	}
}
