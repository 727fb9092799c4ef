package kv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/rKV/rpc/api"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Gets the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := client.Get(cmd.Context(), args[0])
			if errors.Is(err, api.ErrNotFound) {
				fmt.Println("key not found")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(string(value))
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult("put", func(ctx context.Context) (api.Result, error) {
				return client.Put(ctx, args[0], []byte(args[1]))
			}, cmd)
		},
	}
	putIfAbsentCmd = &cobra.Command{
		Use:   "put-if-absent [key] [value]",
		Short: "Sets the value for a key if the key has no value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult("put-if-absent", func(ctx context.Context) (api.Result, error) {
				return client.PutIfAbsent(ctx, args[0], []byte(args[1]))
			}, cmd)
		},
	}
	replaceCmd = &cobra.Command{
		Use:   "replace [key] [value]",
		Short: "Replaces the value of a key that has a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult("replace", func(ctx context.Context) (api.Result, error) {
				if cmd.Flags().Changed("expected") {
					expected, _ := cmd.Flags().GetString("expected")
					return client.ReplaceIf(ctx, args[0], []byte(expected), []byte(args[1]))
				}
				return client.Replace(ctx, args[0], []byte(args[1]))
			}, cmd)
		},
	}
	delCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult("delete", func(ctx context.Context) (api.Result, error) {
				if cmd.Flags().Changed("expected") {
					expected, _ := cmd.Flags().GetString("expected")
					return client.RemoveIf(ctx, args[0], []byte(expected))
				}
				return client.Remove(ctx, args[0])
			}, cmd)
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key has a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := client.Has(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Shows the database and replication sessions of the replica",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := client.Info(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)

// printResult runs op and prints whether it took effect
func printResult(name string, op func(ctx context.Context) (api.Result, error), cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := op(ctx)
	if err != nil {
		return err
	}

	if !res.Applied {
		fmt.Printf("%s had no effect\n", name)
	} else {
		fmt.Printf("%s successfully\n", name)
	}
	if res.Value != nil {
		fmt.Printf("value: %s\n", res.Value)
	}
	return nil
}
