package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage the encrypted secret store",
	Long: `Secrets live in an encrypted store separate from the plain-text
registry. A daemon's env can reference them as "secret:KEY"; the value is
resolved at launch time and never written to the registry or the event log.`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a secret",
	Args:  cobra.ExactArgs(2),
	RunE:  runSecretSet,
}

var secretGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a secret's value",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretGet,
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret keys",
	RunE:  runSecretList,
}

func init() {
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretGetCmd)
	secretCmd.AddCommand(secretListCmd)
	rootCmd.AddCommand(secretCmd)
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openSecrets()
	if err != nil {
		return err
	}
	if err := store.SetSecret(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("stored %s\n", args[0])
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openSecrets()
	if err != nil {
		return err
	}
	value, err := store.GetSecret(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openSecrets()
	if err != nil {
		return err
	}
	keys, err := store.ListSecrets()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("no secrets stored")
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}
