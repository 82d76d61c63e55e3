package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// http-after starts serving HTTP on loopback only after a delay, so http/tcp
// readiness rules have something to wait for.
func main() {
	var port int
	var delay time.Duration
	flag.IntVar(&port, "port", 8080, "Port to listen on")
	flag.DurationVar(&delay, "delay", 1*time.Second, "Delay before the listener opens")
	flag.Parse()

	_, _ = fmt.Fprintf(os.Stdout, "http-after: opening port %d in %s\n", port, delay)
	time.Sleep(delay)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "listen error: %v\n", err)
		os.Exit(2)
	}
	_, _ = fmt.Fprintf(os.Stdout, "http-after: listening on %s\n", ln.Addr())

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if err := http.Serve(ln, mux); err != nil { // #nosec G114 -- test helper
		_, _ = fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(2)
	}
}
