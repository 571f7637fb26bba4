// p2p-helperd is a subprocess helper: it speaks line-delimited JSON over
// stdin/stdout to drive a libp2p host on behalf of a parent process, and
// has no independent persistence or lifecycle beyond that connection.
//
// Usage:
//
//	p2p-helperd [--log-level=info] [--log-json] [--log-file=path]
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Klingon-tech/p2p-helper/internal/codec"
	"github.com/Klingon-tech/p2p-helper/internal/ipc"
	klog "github.com/Klingon-tech/p2p-helper/internal/log"
	"github.com/Klingon-tech/p2p-helper/internal/procflags"
)

func main() {
	flags, err := procflags.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := klog.Init(flags.LogLevel, flags.LogJSON, flags.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: initializing logger: %v\n", err)
		os.Exit(1)
	}

	klog.IPC.Info().Msg("helper starting")

	outbox := ipc.NewOutbox(os.Stdout)
	dispatcher := ipc.NewDispatcher(context.Background(), outbox)

	reader := codec.NewReader(os.Stdin)
	if err := dispatcher.Dispatch(reader); err != nil {
		klog.IPC.Fatal().Err(err).Msg("dispatch loop failed")
	}

	klog.IPC.Info().Msg("stdin closed, helper exiting")
}
