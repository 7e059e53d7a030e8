package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/memrt/internal/client"
	"github.com/born-ml/memrt/internal/memref"
	"github.com/born-ml/memrt/internal/scalar"
)

type memrefInfo struct {
	Shape     []int64  `json:"shape"`
	Strides   []int64  `json:"strides"`
	DType     string   `json:"dtype"`
	Device    string   `json:"device"`
	Ownership string   `json:"ownership"`
	Bytes     int64    `json:"bytes"`
	Values    []string `json:"values"`
}

func inspect(m *memref.MemRef) (memrefInfo, error) {
	data, err := m.CopyToHost()
	if err != nil {
		return memrefInfo{}, err
	}
	return memrefInfo{
		Shape:     m.Shape(),
		Strides:   m.Strides(),
		DType:     m.DType().Name(),
		Device:    m.Device().String(),
		Ownership: m.Ownership().String(),
		Bytes:     m.ByteSize(),
		Values:    m.DType().FormatElements(data),
	}, nil
}

// build creates a zero-filled memref, or copies values when there are any.
func build(c *client.Client, shapeArg, dtypeArg, valuesArg string, deviceIndex int) (*memref.MemRef, error) {
	dtype, err := scalar.Parse(dtypeArg)
	if err != nil {
		return nil, err
	}
	dev, err := resolveDevice(c, deviceIndex)
	if err != nil {
		return nil, err
	}

	values := splitValues(valuesArg)
	if values == nil {
		shape, err := parseShape(shapeArg)
		if err != nil {
			return nil, err
		}
		return c.CreateMemRef(shape, dtype, client.WithDevice(dev))
	}

	data, err := dtype.ParseElements(values)
	if err != nil {
		return nil, err
	}
	buf := memref.HostBuffer{Data: data, ItemSize: dtype.ByteSize()}
	if shapeArg != "" {
		if buf.Shape, err = parseShape(shapeArg); err != nil {
			return nil, err
		}
	}
	return c.CreateMemRefFromBuffer(buf, client.WithDType(dtype), client.WithDevice(dev))
}

func newCreateCmd() *cobra.Command {
	var (
		shape       string
		dtype       string
		values      string
		deviceIndex int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Allocate a memref and print its descriptor",
		Long: `The create command allocates a memref on the host or on an accelerator.
Without --values the memref is zero-filled; with --values the values are
copied in and the shape defaults to one dimension.

Example:
  memrt create --shape 1,2,3 --dtype f16
  memrt create --dtype i1 --values 1,0,1 --device 0`,
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
			defer m.Release()

			info, err := inspect(m)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, m)
			fmt.Fprintf(out, "device=%s ownership=%s bytes=%d\n", info.Device, info.Ownership, info.Bytes)
			fmt.Fprintf(out, "[%s]\n", strings.Join(info.Values, " "))
			return nil
		},
	}
	cmd.Flags().StringVar(&shape, "shape", "", "Comma-separated dimensions, e.g. 1,2,3")
	cmd.Flags().StringVar(&dtype, "dtype", "f32", "Element type (i1 i8 i16 i32 i64 ui8 f16 bf16 f32 f64)")
	cmd.Flags().StringVar(&values, "values", "", "Comma-separated initial values")
	cmd.Flags().IntVar(&deviceIndex, "device", -1, "Accelerator index; -1 for host")
	return cmd
}
