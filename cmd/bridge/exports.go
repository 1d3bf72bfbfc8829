package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/runtime"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func newExportsCommand(c *cli) *cobra.Command {
	var src source
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "List a module's functions",
		Long: `List exported and imported functions. Exports marked callable have the
(i32, i32) -> i64 shape and can be used with "bridge call".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.invoke(func(eng *runtime.Engine) error {
				mod, err := src.compile(cmd.Context(), eng)
				if err != nil {
					return err
				}
				defer mod.Release()

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%s, metered: %t)\n", src.String(), mod.Key(), mod.Metered())
				fmt.Fprintln(out, functionTable(mod.Exports(), true))
				if imports := mod.Imports(); len(imports) > 0 {
					fmt.Fprintln(out, functionTable(imports, false))
				}
				return nil
			})
		},
	}
	src.flags(cmd)
	return cmd
}

func functionTable(fns []engine.FunctionInfo, exports bool) string {
	if exports {
		t := newTable("export", "signature", "callable")
		for _, f := range fns {
			callable := ""
			if f.IsBridge() {
				callable = "yes"
			}
			t.Row(f.Name, f.Signature(), callable)
		}
		return t.Render()
	}
	t := newTable("import", "signature")
	for _, f := range fns {
		t.Row(f.Module+"."+f.Name, f.Signature())
	}
	return t.Render()
}
