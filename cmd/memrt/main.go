// Package main provides the memrt CLI: device listing, memref creation and
// DLPack round trips against the runtime client.
package main

func main() {
	execute()
}
