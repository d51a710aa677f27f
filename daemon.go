package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
)

// newScheduler builds a cron that runs job on config.Schedule in the
// canonical zone. A run still in progress causes the next tick to be skipped.
func newScheduler(config *Config, job func()) (*cron.Cron, error) {
	c := cron.New(
		cron.WithLocation(config.Location()),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(config.Schedule, job); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
	}
	return c, nil
}

func runDaemon(config *Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := newScheduler(config, func() { runOnce(ctx, config) })
	if err != nil {
		log.Fatalf("Error scheduling sync: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	printVerbosely(1, "⏰ Sync scheduled at %q (%s)\n", config.Schedule, config.Location())
	c.Start()

	sig := <-sigCh
	printVerbosely(1, "🛑 %s received, waiting for a running sync to finish...\n", sig)
	cancel()
	<-c.Stop().Done()
}
