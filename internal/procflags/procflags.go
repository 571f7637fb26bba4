// Package procflags parses the helper process's command-line flags.
// Everything about a run is otherwise driven by the configure RPC, so the
// flag set only covers what must be known before the first stdin line is
// read: how to log (A2), grounded on the teacher's config/flags.go
// flag.NewFlagSet(flag.ContinueOnError) pattern trimmed to logging-only
// concerns.
package procflags

import (
	"flag"
	"fmt"
	"os"
)

// Flags holds the parsed command-line flags.
type Flags struct {
	LogLevel string
	LogJSON  bool
	LogFile  string
}

// Parse parses args (normally os.Args[1:]).
func Parse(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("p2p-helperd", flag.ContinueOnError)

	fs.StringVar(&f.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&f.LogJSON, "log-json", false, "emit logs as JSON instead of console-formatted text")
	fs.StringVar(&f.LogFile, "log-file", "", "additionally write logs to this file")

	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	return f, nil
}
