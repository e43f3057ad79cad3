package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/DeedBox/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ful, closeAll, err := newFulfiller(ctx, cfg, defaultWorkerFactories())
	if err != nil {
		panic(err)
	}
	defer closeAll()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.DeedBox.WorkerHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			fulfiller:   ful,
			cfg:         cfg,
		})
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- ful.Run(ctx)
	}()

	select {
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			panic(err)
		}
	case err := <-httpErr:
		if err != nil && ctx.Err() == nil {
			panic(err)
		}
	}
}
