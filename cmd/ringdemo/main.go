// Command ringdemo runs producers and consumers around a shared byte ring buffer.
//
// Usage:
//
//	ringdemo [b|n] [flags]
//
// The optional argument selects the read mode of the consumer:
// 'b' blocks until data is available (default),
// 'n' waits at most --timeout and reports the timeouts.
//
// By default a ticker writes 0x01 ... 0x0A every second and the consumer
// prints every chunk it reads as a timestamped hex dump.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
