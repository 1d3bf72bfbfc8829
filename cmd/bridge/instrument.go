package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/instrument"
)

func newInstrumentCommand(c *cli) *cobra.Command {
	var (
		out  string
		fuel bool
		nans bool
	)
	cmd := &cobra.Command{
		Use:   "instrument FILE",
		Short: "Write the metered form of a module",
		Long: `Instrument runs the same passes the engine applies before compiling:
fuel metering and NaN canonicalization. The fuel global starts at the
configured metering limit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return c.app.invoke(func(f *config.File) error {
				res, err := instrument.Apply(bin, instrument.Options{
					Fuel:             fuel,
					CanonicalizeNaNs: nans,
					InitialFuel:      f.Engine.MeteringLimit,
				})
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, res.Binary, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d fuel charges, %d float results guarded, %d -> %d bytes\n",
					out, res.Charges, res.Canonicalized, len(bin), len(res.Binary))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file")
	cmd.Flags().BoolVar(&fuel, "fuel", true, "inject fuel metering")
	cmd.Flags().BoolVar(&nans, "nans", true, "canonicalize NaN results")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
