package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/terraskye/eventfold"
	"github.com/terraskye/eventfold/shopping"
)

func newRootCmd() *cobra.Command {
	var a *app

	cmd := &cobra.Command{
		Use:          "listctl",
		Short:        "Create, rename and inspect shopping lists",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err = newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}

	current := func() *app { return a }
	cmd.AddCommand(
		createCmd(current),
		renameCmd(current),
		showCmd(current),
		logCmd(current),
	)
	return cmd
}

func createCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <id> <name>",
		Short: "Create a list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := current().bus.Dispatch(cmd.Context(), shopping.CreateList{ID: args[0], Name: args[1]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s at version %d\n", args[0], res.NextExpectedVersion)
			return nil
		},
	}
}

func renameCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := current().bus.Dispatch(cmd.Context(), shopping.RenameList{ID: args[0], Name: args[1]})
			if err != nil {
				return err
			}
			if len(res.Envelopes) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already named %q\n", args[0], args[1])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s at version %d\n", args[0], res.NextExpectedVersion)
			return nil
		},
	}
}

func showCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Replay a list and print its current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			iter, err := current().store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			list, err := eventfold.ReduceIterator(ctx, shopping.List{}, shopping.Apply, iter)
			if err != nil {
				return err
			}
			if !list.Exists() {
				return fmt.Errorf("list %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tversion %d\n", list.ID, list.Name, list.Version)
			return nil
		},
	}
}

func logCmd(current func() *app) *cobra.Command {
	var from uint64

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the global event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			iter, err := current().store.LoadFromAll(ctx, from)
			if err != nil {
				return err
			}
			for iter.Next(ctx) {
				env := iter.Value()
				payload, err := json.Marshal(env.Event)
				if err != nil {
					return fmt.Errorf("encode event at position %d: %w", env.Position, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d\t%s\t%s\n", env.Position, env.AggregateID, env.Version, env.TypeName, payload)
			}
			return iter.Err()
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "first global position to print")
	return cmd
}
