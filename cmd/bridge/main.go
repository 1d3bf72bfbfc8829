// Command bridge runs metered WebAssembly guests that speak the envelope
// protocol, and manages a local store of named modules.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-bridge/config"
)

type cli struct {
	configPath string
	app        *app
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	return c.app.Close(context.Background())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &cli{}
	err := newRootCommand(c).ExecuteContext(ctx)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "bridge",
		Short: "Run metered WebAssembly guests",
		Long: `bridge drives WebAssembly modules that exchange envelope-framed
payloads through (ptr, len) -> i64 exports.

Every call runs under a fuel budget and ends in one of: success, an
application failure reported by the guest, metering exceeded, a guest
trap, or a protocol violation.`,
		Example: `  # Call an export with a string payload
  bridge call --wasm guest.wasm --func greet --payload world

  # Register a module and call it by name
  bridge module add greeter guest.wasm
  bridge call --module greeter --func greet --payload-file req.bin

  # Pick exports interactively
  bridge call --wasm guest.wasm -i`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(c.configPath)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.DefaultPath, "configuration file")

	root.AddCommand(
		newCallCommand(c),
		newExportsCommand(c),
		newModuleCommand(c),
		newInstrumentCommand(c),
		newConfigCommand(c),
	)
	return root
}
