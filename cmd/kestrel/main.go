// Kestrel - insurance claim anomaly and customer risk scoring.
package main

import (
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
