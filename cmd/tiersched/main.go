package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tiersched/internal/app"
)

func main() {
	var opts app.Options
	flag.StringVar(&opts.ConfigPath, "config", "./tiersched.yaml", "path to config (json or yaml)")
	flag.StringVar(&opts.Manifest, "manifest", "", "job manifest path (overrides config.manifest)")
	flag.BoolVar(&opts.Once, "once", false, "drain the manifest once and exit, even if a trigger is configured")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal run:", err)
		os.Exit(1)
	}
}
