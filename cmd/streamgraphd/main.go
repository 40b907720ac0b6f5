// Command streamgraphd loads a declarative pipeline graph and runs it to
// completion, wiring the illustrative demo filters (tsdemux, tsmux,
// nullsink) as the set of module types its graph loader recognizes.
package main

import (
	"os"

	"github.com/streamgraph-io/streamgraph/cmd/streamgraphd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
