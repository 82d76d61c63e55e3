package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// crash-after pretends to start a server and then exits nonzero, to exercise
// the exited-while-starting outcome and the retry loop.
func main() {
	var after time.Duration
	var code int
	flag.DurationVar(&after, "after", 250*time.Millisecond, "Duration before exit")
	flag.IntVar(&code, "code", 2, "Exit code")
	flag.Parse()

	_, _ = fmt.Fprintln(os.Stdout, "crash-after: starting up")
	time.Sleep(after)
	_, _ = fmt.Fprintln(os.Stderr, "crash-after: giving up")
	os.Exit(code)
}
