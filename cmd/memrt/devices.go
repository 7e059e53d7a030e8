package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/memrt/internal/device"
)

type deviceInfo struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Platform    string `json:"platform"`
	ID          int32  `json:"id"`
	Addressable bool   `json:"addressable"`
	Capacity    int64  `json:"capacity,omitempty"`
}

func describe(d *device.Device) deviceInfo {
	info := deviceInfo{
		Index:       d.Index(),
		Name:        d.Name(),
		Kind:        d.Kind().String(),
		Platform:    d.Platform().String(),
		ID:          d.ID(),
		Addressable: d.Driver().Addressable(),
	}
	if e, ok := d.Driver().(*device.EmulatedDriver); ok {
		info.Capacity = e.Capacity()
	}
	return info
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the memory spaces a client enumerates",
		Long: `The devices command lists the host memory space followed by every
accelerator, in the order a client enumerates them.

Example:
  memrt devices
  memrt devices --emulated 2 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			infos := []deviceInfo{describe(c.Host())}
			for _, d := range c.Devices() {
				infos = append(infos, describe(d))
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), infos)
			}

			out := cmd.OutOrStdout()
			for _, info := range infos {
				fmt.Fprintf(out, "%3d  %-12s %-12s %s:%d", info.Index, info.Name, info.Kind, info.Platform, info.ID)
				if info.Capacity > 0 {
					fmt.Fprintf(out, "  capacity=%d", info.Capacity)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}
