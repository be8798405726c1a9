package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fatih/color"

	"github.com/loomworks/loom/internal/storage"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

// outputJSON prints v as indented JSON on stdout.
func outputJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

const storageRetryMaxElapsed = 15 * time.Second

// withStorageRetry retries op on transient storage errors with
// exponential backoff. Everything else fails immediately: validation
// and protocol errors must be fixed upstream, not retried.
func withStorageRetry(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = storageRetryMaxElapsed
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrStorage) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, bo)
}

// exitErr prints err and terminates with a non-zero status.
func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
