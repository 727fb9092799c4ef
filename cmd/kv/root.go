package kv

import (
	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/rpc/api"
	"github.com/spf13/cobra"
)

var (
	client *api.Client

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform key-value operations on a running replica",
		PersistentPreRunE: setupKVClient,
	}
)

func init() {
	// Add the HTTP client flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(putIfAbsentCmd)
	KeyValueCommands.AddCommand(replaceCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(infoCmd)

	replaceCmd.Flags().String("expected", "", util.WrapString("Only replace if the current value equals this value"))
	delCmd.Flags().String("expected", "", util.WrapString("Only delete if the current value equals this value"))
}

// setupKVClient initializes the HTTP client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	client, err = api.NewClient(util.GetClientConfig())
	return err
}
