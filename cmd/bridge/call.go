package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-bridge/envelope"
	"github.com/wippyai/wasm-bridge/runtime"
)

var (
	statStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

// source names the module a command works on: a file or a stored name.
type source struct {
	wasm   string
	module string
}

func (s *source) flags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.wasm, "wasm", "", "path to a .wasm file")
	cmd.Flags().StringVar(&s.module, "module", "", "name of a stored module")
	cmd.MarkFlagsMutuallyExclusive("wasm", "module")
	cmd.MarkFlagsOneRequired("wasm", "module")
}

func (s *source) String() string {
	if s.wasm != "" {
		return s.wasm
	}
	return s.module
}

// compile loads the module from disk or the store. The caller releases it.
func (s *source) compile(ctx context.Context, eng *runtime.Engine) (*runtime.Module, error) {
	if s.module != "" {
		return eng.CompileStored(ctx, s.module)
	}
	bin, err := os.ReadFile(s.wasm)
	if err != nil {
		return nil, err
	}
	return eng.CompileCached(ctx, "", bin)
}

func newCallCommand(c *cli) *cobra.Command {
	var (
		src         source
		function    string
		payload     string
		payloadFile string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call a guest export with a payload",
		Long: `Call sends one request envelope to a bridge export and prints the
response payload to stdout. Fuel used is reported on stderr.

An application failure returned by the guest is printed with its code and
makes the command exit non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interactive {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return fmt.Errorf("interactive mode needs a terminal")
				}
				return c.app.invoke(func(eng *runtime.Engine) error {
					return runInteractive(eng, &src)
				})
			}
			if function == "" {
				return fmt.Errorf("--func is required")
			}

			req := []byte(payload)
			if payloadFile != "" {
				var err error
				if req, err = os.ReadFile(payloadFile); err != nil {
					return err
				}
			}

			return c.app.invoke(func(eng *runtime.Engine, log *zap.Logger) error {
				ctx := cmd.Context()
				mod, err := src.compile(ctx, eng)
				if err != nil {
					return err
				}
				defer mod.Release()

				inst, err := eng.Instantiate(ctx, mod)
				if err != nil {
					return err
				}
				defer closeInstance(ctx, log, inst)

				res, err := eng.CallRaw(ctx, inst, function, req)
				if err != nil {
					return err
				}
				return printResult(cmd, res)
			})
		},
	}
	src.flags(cmd)
	cmd.Flags().StringVar(&function, "func", "", "export to call")
	cmd.Flags().StringVar(&payload, "payload", "", "request payload")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "read the request payload from a file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "choose exports and payloads in a terminal UI")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")
	return cmd
}

func closeInstance(ctx context.Context, log *zap.Logger, inst *runtime.Instance) {
	if err := inst.Close(ctx); err != nil {
		log.Warn("close instance", zap.String("module", inst.Key()), zap.Error(err))
	}
}

func printResult(cmd *cobra.Command, res *runtime.Result) error {
	stats := fmt.Sprintf("fuel %d, flags %s", res.FuelConsumed, res.Flags)
	if f, ok := res.Failure(); ok {
		fmt.Fprintln(cmd.ErrOrStderr(), failStyle.Render(f.Error()))
		fmt.Fprintln(cmd.ErrOrStderr(), statStyle.Render(stats))
		return failureError{f}
	}
	if _, err := cmd.OutOrStdout().Write(res.Payload); err != nil {
		return err
	}
	if len(res.Payload) > 0 && res.Payload[len(res.Payload)-1] != '\n' {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	fmt.Fprintln(cmd.ErrOrStderr(), statStyle.Render(stats))
	return nil
}

// failureError makes the process exit non-zero after the guest reported a
// failure that was already printed.
type failureError struct{ f envelope.Failure }

func (e failureError) Error() string { return "guest returned " + e.f.Code.String() }
