package main

import (
	"errors"
	"fmt"

	"github.com/dkeye/commonroom/internal/adapters/bus"
	"github.com/dkeye/commonroom/internal/adapters/store"
	"github.com/dkeye/commonroom/internal/app/session"
	"github.com/dkeye/commonroom/internal/config"
	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/spf13/cobra"
)

var (
	userID    string
	userEmail string
	userName  string
	userRoles []string
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the user directory",
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := openUsers()
		if err != nil {
			return err
		}
		defer users.Close()

		ident, err := users.CreateUser(cmd.Context(), userEmail, userName, userRoles)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", ident.Email, ident.ID)
		return nil
	},
}

var usersTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a fresh login token, invalidating the previous one",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := openUsers()
		if err != nil {
			return err
		}
		defer users.Close()

		token, err := users.IssueToken(cmd.Context(), userEmail)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var usersReconnectCmd = &cobra.Command{
	Use:   "reconnect",
	Short: "Force every connection of a user to reconnect",
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogger("release")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		b, err := openSharedBus(cfg.Bus)
		if err != nil {
			return err
		}
		defer b.Close()
		return session.RequestReconnect(cmd.Context(), b, domain.UserID(userID))
	},
}

func init() {
	usersAddCmd.Flags().StringVar(&userEmail, "email", "", "user email")
	usersAddCmd.Flags().StringVar(&userName, "name", "", "display name")
	usersAddCmd.Flags().StringSliceVar(&userRoles, "role", nil, "role to grant (repeatable)")
	_ = usersAddCmd.MarkFlagRequired("email")
	_ = usersAddCmd.MarkFlagRequired("name")

	usersTokenCmd.Flags().StringVar(&userEmail, "email", "", "user email")
	_ = usersTokenCmd.MarkFlagRequired("email")

	usersReconnectCmd.Flags().StringVar(&userID, "id", "", "user id")
	_ = usersReconnectCmd.MarkFlagRequired("id")

	usersCmd.AddCommand(usersAddCmd, usersTokenCmd, usersReconnectCmd)
	rootCmd.AddCommand(usersCmd)
}

var errPrivateBus = errors.New("reconnect needs a shared bus (nats or redis)")

// openSharedBus refuses the memory bus, which is private to this process.
func openSharedBus(cfg config.BusConfig) (core.Bus, error) {
	if cfg.Driver == "" || cfg.Driver == bus.DriverMemory {
		return nil, errPrivateBus
	}
	return bus.Open(cfg.Driver, cfg.URL)
}

func openUsers() (*store.Users, error) {
	setupLogger("release")
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Database.Path)
}
