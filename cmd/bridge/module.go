package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-bridge/store"
)

func newModuleCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "module",
		Aliases: []string{"mod"},
		Short:   "Manage stored modules",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add NAME FILE",
			Short: "Store a module under a name",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				bin, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				return c.app.invoke(func(s *store.BadgerStore) error {
					rec, err := s.Put(args[0], bin)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", rec.Name, rec.Key, rec.Size)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List stored modules",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.app.invoke(func(s *store.BadgerStore) error {
					recs, err := s.List()
					if err != nil {
						return err
					}
					if len(recs) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "no modules stored")
						return nil
					}
					t := newTable("name", "key", "size", "added")
					for _, r := range recs {
						t.Row(r.Name, r.Key, strconv.Itoa(r.Size), r.AddedAt.Local().Format(time.DateTime))
					}
					fmt.Fprintln(cmd.OutOrStdout(), t.Render())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:     "rm NAME",
			Aliases: []string{"remove"},
			Short:   "Remove a stored module",
			Args:    cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return c.app.invoke(func(s *store.BadgerStore) error {
					return s.Delete(args[0])
				})
			},
		},
	)
	return cmd
}
