package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
	"github.com/kiara-project/kiara-go/pkg/domain/engine"
	"github.com/kiara-project/kiara-go/pkg/domain/engineconfig"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype/builtin"
	"github.com/kiara-project/kiara-go/pkg/utils/filewatch"
)

func main() {
	pconfig := flag.String("config", os.Getenv("KIARA_CONFIG"), "path to kiara.yaml")
	port := flag.Int("port", 8080, "listen port")
	workers := flag.Int("workers", 4, "parallel processor worker pool size")
	loglevel := flag.String("loglevel", "warn", "log level. debug|info|warn|error|off")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancel()

	if *pconfig == "" {
		fmt.Fprintln(os.Stderr, "kiarad: -config or KIARA_CONFIG is required")
		os.Exit(1)
	}

	doc, err := engineconfig.Load(*pconfig)
	if err != nil {
		panic(err)
	}
	contextName, contextConfig, err := engineconfig.SelectContext(doc)
	if err != nil {
		panic(err)
	}
	stores, err := engineconfig.OpenStores(ctx, contextName, contextConfig)
	if err != nil {
		panic(err)
	}

	types := datatype.NewRegistry()
	if err := datatype.RegisterDefaults(types); err != nil {
		panic(err)
	}
	modules := moduletype.NewRegistry()
	if err := builtin.RegisterAll(modules); err != nil {
		panic(err)
	}

	engineCtx := engine.New(types, modules, stores, *workers)
	defer engineCtx.Close()
	builtin.RegisterOperations(engineCtx.Operations)

	// A config file edit should not be served stale: watch it and fold
	// its cancellation into the same context the signal handler uses,
	// so an edit triggers the identical graceful-shutdown path a
	// SIGINT would.
	ctx, stopWatch := watchConfigFile(ctx, *pconfig)
	defer stopWatch()

	server := BuildServer(engineCtx, *loglevel)
	for _, r := range server.Routes() {
		server.Logger.Debugf("- mount handler: %s %s", strings.ToUpper(r.Method), r.Path)
	}

	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		if err := server.Start(fmt.Sprintf(":%d", *port)); err != nil && err != http.ErrServerClosed {
			ch <- err
		}
	}()

	exit := 0
	select {
	case <-ctx.Done():
		server.Logger.Infof("context done: %s", ctx.Err())
	case err := <-ch:
		if err != nil {
			server.Logger.Error("server stopped with error:", err)
			exit = 1
		}
	}

	if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
		server.Logger.Infof("triggered by: %s", cause)
	}
	server.Logger.Info("shutting down...")
	qctx, qcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer qcancel()
	if err := server.Shutdown(qctx); err != nil {
		server.Logger.Fatalf("shutdown failed: %+v", err)
		exit = 1
	}
	// os.Exit skips deferred calls, so the engine is closed here.
	engineCtx.Close()
	os.Exit(exit)
}

// watchConfigFile derives a context from parent that is also canceled
// when path is modified. A watch failure (e.g. the file sits on a
// filesystem that does not support inotify) is not fatal: it just
// means config edits require a manual restart, so parent is returned
// unwatched.
func watchConfigFile(parent context.Context, path string) (context.Context, func()) {
	watched, cancel, err := filewatch.UntilModifyContext(parent, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kiarad: could not watch %s for changes: %s\n", path, err)
		return parent, func() {}
	}
	return watched, cancel
}
