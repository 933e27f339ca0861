// Command simcache replays a memory-access trace against a configurable
// multi-level cache hierarchy and writes the resulting metrics report.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
