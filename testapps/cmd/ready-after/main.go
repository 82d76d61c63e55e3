package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// ready-after prints a few startup lines, announces readiness after a delay
// and then idles. Point a `matches` rule at the marker line.
func main() {
	var delay time.Duration
	var marker string
	var lines int
	flag.DurationVar(&delay, "delay", 500*time.Millisecond, "Delay before printing the ready marker")
	flag.StringVar(&marker, "marker", "ready", "Marker line to print once ready")
	flag.IntVar(&lines, "lines", 3, "Number of startup lines to print before the marker")
	flag.Parse()

	for i := 0; i < lines; i++ {
		_, _ = fmt.Fprintf(os.Stdout, "starting up (%d/%d)\n", i+1, lines)
	}
	time.Sleep(delay)
	_, _ = fmt.Fprintln(os.Stdout, marker)
	select {}
}
