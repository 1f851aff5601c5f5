// Command kbsync is the operator CLI for the embedding sync pipeline.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
