// Command orchprobe drives the request orchestrator against a live API.
//
// It is a manual testing aid: issue reads and writes through the same
// cache, dedup, rate budget and lane pipeline an application would use, and
// watch the counters on /metrics.
//
// Examples:
//
//	orchprobe fetch /accounts --repeat 5 --concurrency 5
//	orchprobe fetch /goals/3 --method PUT --data '{"target":500}'
//	orchprobe watch /dashboard --every 10s --metrics-addr :9090
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
