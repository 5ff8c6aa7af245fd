// Package main runs the price matcher service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-matcher/internal/config"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
	"github.com/JakeFAU/realtime-price-matcher/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	productPath := flag.String("product", "", "Match one reference product from a JSON file ('-' for stdin) and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}

	if *productPath != "" {
		if err := matchOnce(ctx, app, *productPath, os.Stdout); err != nil {
			zap.L().Error("match failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := app.Run(ctx); err != nil {
		zap.L().Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func matchOnce(ctx context.Context, app *server.App, path string, out io.Writer) error {
	defer app.Close(context.WithoutCancel(ctx))

	product, err := readProduct(path)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.Start(runCtx)

	jobID, err := app.Service().SubmitMatch(runCtx, product)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	outcome, err := app.Service().Await(runCtx, jobID)
	if err != nil {
		return fmt.Errorf("await: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	if outcome.Status != pricing.JobStatusCompleted {
		return fmt.Errorf("job %s finished %s: %s", jobID, outcome.Status, outcome.Error)
	}
	return nil
}

func readProduct(path string) (pricing.ReferenceProduct, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return pricing.ReferenceProduct{}, fmt.Errorf("open product: %w", err)
		}
		defer f.Close() //nolint:errcheck // read-only
		r = f
	}
	var product pricing.ReferenceProduct
	if err := json.NewDecoder(r).Decode(&product); err != nil {
		return pricing.ReferenceProduct{}, fmt.Errorf("decode product: %w", err)
	}
	return product, nil
}
