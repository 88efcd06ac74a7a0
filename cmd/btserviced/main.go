// btserviced is the Bluetooth host service daemon: it loads the process
// configuration, builds the runtime context over the stack abstraction,
// and serves the IPC protocol until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/btruntime"
	"github.com/btsvc/btserviced/config"
	"github.com/btsvc/btserviced/profile/pan"
	"github.com/btsvc/btserviced/sal/salfake"
)

func main() {
	var configPath = pflag.StringP("config", "c", "", "Configuration file path.")
	var socketPath = pflag.StringP("socket", "s", "", "IPC socket path (overrides config).")
	var logLevel = pflag.StringP("log-level", "l", "", "Log level: debug, info, warn, error.")
	var localAddr = pflag.StringP("address", "a", "00:00:00:00:00:00", "Local controller address.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\nOptions:\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if level, err := btlog.ParseLevel(cfg.LogLevel); err == nil {
		btlog.SetLevel(level)
	}

	addr, err := bt.ParseAddress(*localAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad --address: %v\n", err)
		os.Exit(1)
	}

	// this binary always binds the in-memory stack, which keeps the daemon
	// runnable on hosts with no controller attached
	stack := salfake.New().Bundle()

	ctx := btruntime.New(cfg, stack, pan.NewLinuxTap())
	if err := ctx.Start(addr); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx.Stop()
}
