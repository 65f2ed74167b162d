// Command h5vol inspects connectors, filters and plugin paths of the h5vol
// runtime, and lists or edits the group structure of files.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
