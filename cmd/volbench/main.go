// Command volbench streams volumes through the scheduler and cache and
// reports load statistics, optionally exposing Prometheus metrics and pprof.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
