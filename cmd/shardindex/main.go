// Command shardindex runs one node of the log indexing cluster: it
// ingests spans from a bus, buffers and rolls over chunks to object
// storage, and serves admin requests over HTTP.
package main

import (
	"fmt"
	"os"

	"shardindex/cmd/shardindex/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
