package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type roundTripInfo struct {
	Producer memrefInfo `json:"producer"`
	Capsule  string     `json:"capsule"`
	Imported memrefInfo `json:"imported"`
	SamePtr  bool       `json:"same_ptr"`
	Live     int        `json:"live_storages"`
}

func newRoundTripCmd() *cobra.Command {
	var (
		shape       string
		dtype       string
		values      string
		deviceIndex int
	)
	cmd := &cobra.Command{
		Use:   "roundtrip",
		Short: "Export a memref to a DLPack capsule and import it back",
		Long: `The roundtrip command creates a memref, exports it as a DLPack capsule,
releases the producer and imports the capsule as a view. The imported view
must see the producer's bytes at the producer's address, and nothing may
stay live once the view is released.

Example:
  memrt roundtrip --dtype f32 --values 5,4,2
  memrt roundtrip --dtype bf16 --shape 2,2 --values 1,2,3,4 --device 0 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			m, err := build(c, shape, dtype, values, deviceIndex)
			if err != nil {
				return err
			}
			var info roundTripInfo
			if info.Producer, err = inspect(m); err != nil {
				_ = m.Release()
				return err
			}
			ptr := m.Ptr()

			capsule, err := c.ToDLPack(m)
			if err != nil {
				_ = m.Release()
				return err
			}
			if err := m.Release(); err != nil {
				return err
			}

			v, err := c.FromDLPack(capsule)
			if err != nil {
				_ = capsule.Close()
				return err
			}
			info.Capsule = capsule.Name()
			info.SamePtr = v.Ptr() == ptr
			info.Imported, err = inspect(v)
			if rerr := v.Release(); err == nil {
				err = rerr
			}
			if err != nil {
				return err
			}
			info.Live = c.LiveStorages()

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "producer: %s on %s\n", info.Producer.DType, info.Producer.Device)
			fmt.Fprintf(out, "capsule:  %s\n", info.Capsule)
			fmt.Fprintf(out, "imported: %v same_ptr=%t\n", info.Imported.Values, info.SamePtr)
			fmt.Fprintf(out, "live storages: %d\n", info.Live)
			return nil
		},
	}
	cmd.Flags().StringVar(&shape, "shape", "", "Comma-separated dimensions, e.g. 1,2,3")
	cmd.Flags().StringVar(&dtype, "dtype", "f32", "Element type (i1 i8 i16 i32 i64 ui8 f16 bf16 f32 f64)")
	cmd.Flags().StringVar(&values, "values", "", "Comma-separated initial values")
	cmd.Flags().IntVar(&deviceIndex, "device", -1, "Accelerator index; -1 for host")
	return cmd
}
