// Command tablecallctl drives the call service from a terminal: it can open
// a call and replay recognized intents against it, one line per turn.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
