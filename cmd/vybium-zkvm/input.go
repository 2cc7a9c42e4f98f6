package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	zkvm "github.com/vybium/vybium-zkvm/pkg/vybium-zkvm"
)

type inputFlags struct {
	u64s []uint64
	hexs []string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().Uint64SliceVar(&f.u64s, "input-u64", nil, "Little-endian u64 values written as one input chunk.")
	cmd.Flags().StringArrayVar(&f.hexs, "input-hex", nil, "Hex bytes written as one input chunk; repeatable.")
}

// stdin builds the input stream: the --input-u64 chunk first, then one chunk
// per --input-hex in flag order.
func (f *inputFlags) stdin() (*zkvm.StdIn, error) {
	in := zkvm.NewStdIn()
	if len(f.u64s) > 0 {
		var chunk zkvm.U64s = f.u64s
		if err := in.Write(chunk); err != nil {
			return nil, err
		}
	}
	for _, h := range f.hexs {
		b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
		if err != nil {
			return nil, fmt.Errorf("--input-hex %q: %w", h, err)
		}
		in.WriteBytes(b)
	}
	return in, nil
}
