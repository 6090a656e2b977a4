// Command forge-worker consumes the training and generation job streams
// (component C3) round-robin and drives each message through the C5
// executor stage machine. It is the scaled-out counterpart to
// cmd/server's inline fast-test execution path: the two only make sense
// paired once forge-server is configured with mode=production, so that
// submissions are enqueued rather than run in the server's own process.
package main

import (
	"fmt"
	"os"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
