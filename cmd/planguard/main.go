package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.1.0"

var (
	errInvalidPlan = errors.New("one or more plans are invalid")
	errInfeasible  = errors.New("revision is not feasible")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "planguard: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for an infeasible revision and 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, errInfeasible) {
		return 2
	}
	return 1
}
