// Command bondctl inspects and drives a local bond store without a chat host.
package main

import (
	"fmt"
	"os"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	// PersistentPostRun is skipped when a command fails.
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
