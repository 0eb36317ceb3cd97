// flaky is an HTTP server that exits with an error after EXIT_AFTER
// (a Go duration). Integration tests use it to exercise restarts.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flaky: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	port := os.Getenv("PORT")
	if port == "" {
		return fmt.Errorf("PORT must be set")
	}
	if raw := os.Getenv("EXIT_AFTER"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid EXIT_AFTER %q: %w", raw, err)
		}
		time.AfterFunc(d, func() {
			fmt.Fprintln(os.Stderr, "flaky: simulated crash")
			os.Exit(2)
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return http.ListenAndServe("127.0.0.1:"+port, mux)
}
