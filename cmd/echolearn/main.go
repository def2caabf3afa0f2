package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hitoshi/echolearn/internal/app"
)

// version はビルド時に -ldflags で設定する。
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := app.Run(ctx, os.Stdout, version, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}
