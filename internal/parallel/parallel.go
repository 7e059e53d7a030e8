// Package parallel splits byte ranges across goroutines for the bulk
// element passes of buffer construction.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how a range is split.
type Config struct {
	Enabled      bool // Whether to use more than one goroutine.
	NumWorkers   int  // Upper bound on goroutines per call.
	MinChunkSize int  // Smallest range handed to one goroutine.
}

// DefaultConfig uses every CPU and 64 KiB chunks.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64 << 10,
	}
}

// Sequential never spawns goroutines.
func Sequential() Config {
	return Config{}
}

// Range calls f on consecutive half-open sub-ranges covering [0, n) and
// returns once all calls are done. Ranges shorter than two chunks run on
// the calling goroutine.
func Range(n int, cfg Config, f func(lo, hi int)) {
	if n <= 0 {
		return
	}
	workers := cfg.NumWorkers
	if !cfg.Enabled || workers < 2 || n < 2*max(cfg.MinChunkSize, 1) {
		f(0, n)
		return
	}

	chunk := max((n+workers-1)/workers, cfg.MinChunkSize)
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			f(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
