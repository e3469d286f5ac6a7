package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dialtone/internal/app"
)

func main() {
	var (
		cfgPath     string
		listDevices bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.BoolVar(&listDevices, "list-devices", false, "print audio capture devices and exit")
	flag.Parse()

	if listDevices {
		out, err := app.ListDevices()
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		fmt.Print(out)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		fmt.Println("fatal:", err)
		_ = a.Close()
		os.Exit(1)
	}
}
