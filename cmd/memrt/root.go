package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/memrt/internal/client"
	"github.com/born-ml/memrt/internal/device"
)

var (
	// Global flags
	verbose  bool
	jsonOut  bool
	webgpu   bool
	emulated int
	capacity int64
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memrt",
		Short: "Allocate, inspect and exchange typed memory buffers",
		Long: `memrt drives the memref runtime from the command line. It lists the
memory spaces a client enumerates, allocates memrefs on them and runs
zero-copy DLPack export/import round trips.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log allocations and exchanges to stderr")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVar(&webgpu, "webgpu", false, "Probe for a WebGPU adapter")
	cmd.PersistentFlags().IntVar(&emulated, "emulated", 1, "Number of emulated accelerators")
	cmd.PersistentFlags().Int64Var(&capacity, "capacity", device.DefaultEmulatedCapacity, "Byte capacity of each emulated accelerator")

	cmd.AddCommand(newDevicesCmd(), newCreateCmd(), newRoundTripCmd(), newVersionCmd())
	return cmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newClient builds a client from the global flags.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg := client.DefaultConfig()
	cfg.EmulatedDevices = emulated
	cfg.EmulatedCapacity = capacity
	cfg.EnableWebGPU = webgpu
	if verbose {
		cfg.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return client.New(cfg)
}

// resolveDevice maps -1 to the host and other indexes to accelerators.
func resolveDevice(c *client.Client, index int) (*device.Device, error) {
	if index < 0 {
		return nil, nil
	}
	return c.Device(index)
}

// parseShape parses "1,2,3". An empty string is a scalar.
func parseShape(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int64{}, nil
	}
	parts := strings.Split(s, ",")
	shape := make([]int64, len(parts))
	for i, p := range parts {
		d, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dimension %q: %w", p, err)
		}
		shape[i] = d
	}
	return shape, nil
}

func splitValues(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
