package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sjscal/pkg/auth"
	"sjscal/pkg/storage/redis"
)

var (
	apikeyOwner *string
	apikeyRole  *string
	apikeyTTL   *time.Duration
)

func init() {
	apikeyOwner = apikeyCmd.PersistentFlags().String("owner", "admin", "The owner the keys belong to.")
	apikeyRole = apikeyCreateCmd.Flags().String("role", string(auth.RoleOperator), "admin, operator or viewer.")
	apikeyTTL = apikeyCreateCmd.Flags().Duration("ttl", 0, "Key lifetime; zero never expires.")

	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func openKeyStore() (*auth.RedisAPIKeyStore, func()) {
	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		fatal("failed to connect to redis", err)
	}
	return auth.NewRedisAPIKeyStore(queue.Client()), func() { _ = queue.Close() }
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manages API keys stored in Redis.",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <name> [--role <role>] [--ttl <duration>]",
	Short: "Creates a key and prints it once.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := auth.ParseRole(*apikeyRole)
		if err != nil {
			return err
		}
		info := auth.APIKeyInfo{Name: args[0], OwnerID: *apikeyOwner, Role: role}
		if *apikeyTTL > 0 {
			info.ExpiresAt = time.Now().Add(*apikeyTTL).Unix()
		}

		store, done := openKeyStore()
		defer done()
		key, err := store.CreateKey(cmd.Context(), info)
		if err != nil {
			return err
		}
		fmt.Println(key)
		fmt.Println(yellow("Store this key now; it cannot be shown again."))
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the keys of --owner.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done := openKeyStore()
		defer done()
		keys, err := store.ListKeys(cmd.Context(), *apikeyOwner)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"ID", "Name", "Role", "Created", "Expires", "Last used"})
		for _, k := range keys {
			t.AppendRow(table.Row{k.ID, k.Name, k.Role, unixTime(k.CreatedAt), unixTime(k.ExpiresAt), unixTime(k.LastUsed)})
		}
		t.Render()
		return nil
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revokes a key by ID.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done := openKeyStore()
		defer done()
		if err := store.RevokeKey(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println(green("revoked"), args[0])
		return nil
	},
}

func unixTime(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
