// Command miner mines a probabilistic sequence dictionary from a
// transaction database and serves the result.
//
// Usage:
//
//	go run ./cmd/miner mine  [--config configs/development.yaml] [--source postgres|kafka]
//	go run ./cmd/miner trial [--config ...] 1,2 3,1,4
//	go run ./cmd/miner serve [--config ...]
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
