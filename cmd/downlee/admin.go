package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/downlee/downlee/internal/infra/config"
	"github.com/downlee/downlee/internal/infra/logger"
	"github.com/downlee/downlee/internal/store"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset-password <username>",
		Short: "Reset an account password to a fresh random one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			user, err := st.UserByUsername(args[0])
			if err != nil {
				return fmt.Errorf("unknown user %q", args[0])
			}

			buf := make([]byte, 9)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			password := hex.EncodeToString(buf)

			if err := st.SetPassword(user.ID, password); err != nil {
				return err
			}
			fmt.Printf("password for %s reset to: %s\n", user.Username, password)
			return nil
		},
	})
	return cmd
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Permanently remove soft-deleted download records",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.PurgeDeleted()
			if err != nil {
				return err
			}
			fmt.Printf("purged %d records\n", n)
			return nil
		},
	}
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	log := logger.NewWriter(os.Stdout, logger.ParseLevel(cfg.Log.Level))
	return store.Open(cfg.Store.DatabaseURL, log)
}
