// Command forge-server runs the C1-instrumented HTTP/SSE edge (spec
// §6): job submission, collaborator CRUD, progress streaming, and the
// observability/UELR surfaces. In fast-test mode it also drives the
// executor in-process; in production mode it hands submissions off to
// the stream queue for cmd/worker to execute.
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
