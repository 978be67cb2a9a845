// Command order-status polls the order status endpoint until the order settles
// or the attempt budget runs out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/poller"
)

const (
	exitCompleted = 0
	exitError     = 1
	exitFailed    = 2
	exitPending   = 3
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "order-status"})
	_ = godotenv.Load()

	orderID := flag.String("order", "", "order id to watch")
	token := flag.String("token", os.Getenv("MARKET_POLLER_TOKEN"), "bearer token of the buyer or seller")
	once := flag.Bool("once", false, "read the status a single time instead of waiting")
	flag.Parse()

	if *orderID == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: order-status -order <id> -token <jwt> [-once]")
		os.Exit(exitError)
	}

	var cfg config.PollerConfig
	if err := envconfig.Process(config.EnvPrefix, &cfg); err != nil {
		logg.Error(context.Background(), "failed to load poller config", err)
		os.Exit(exitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithOrderID(ctx, *orderID)

	client := poller.New(cfg, *token)

	var (
		status *poller.OrderStatus
		err    error
	)
	if *once {
		status, err = client.Status(ctx, *orderID)
	} else {
		status, err = client.Wait(ctx, *orderID)
	}

	switch {
	case errors.Is(err, poller.ErrStillPending):
		fmt.Println(poller.ErrStillPending.Error())
		os.Exit(exitPending)
	case err != nil:
		logg.Error(ctx, "status check failed", err)
		os.Exit(exitError)
	}

	fmt.Printf("%s %s\n", status.OrderID, status.Status)
	if status.Message != "" {
		fmt.Println(status.Message)
	}
	switch status.Status {
	case poller.StatusCompleted:
		os.Exit(exitCompleted)
	case poller.StatusFailed:
		os.Exit(exitFailed)
	default:
		os.Exit(exitPending)
	}
}
