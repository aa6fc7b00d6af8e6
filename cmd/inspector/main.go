// Command inspector is the control shell of the label inspection station.
// It supervises the detection backend, streams camera frames to the
// operator surfaces, and relays inspection commands.
package main

import (
	"fmt"
	"os"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "inspector: unexpected internal error, see the log for details")
			fmt.Fprintf(os.Stderr, "panic: %v\n", r)
			os.Exit(2)
		}
	}()
	Execute()
}
