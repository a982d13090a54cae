package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"homeraAi/internal/plans"
	"homeraAi/internal/storage"
)

var (
	userDBFlag    string
	userEmailFlag string
	userTierFlag  string
	userRoleFlag  string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Administer accounts",
}

var userSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change a user's tier or role without billing",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewStore(cmd.Context(), userDBFlag)
		if err != nil {
			return err
		}
		defer store.Close()
		return setUser(cmd.Context(), store, cmd.OutOrStdout(), userEmailFlag, userTierFlag, userRoleFlag)
	},
}

func init() {
	userSetCmd.Flags().StringVar(&userDBFlag, "db", os.Getenv("DATABASE_URL"), "Database URL (postgres://, sqlite:<path>)")
	userSetCmd.Flags().StringVar(&userEmailFlag, "email", "", "User email")
	userSetCmd.Flags().StringVar(&userTierFlag, "tier", "", "New tier")
	userSetCmd.Flags().StringVar(&userRoleFlag, "role", "", "New role: user or admin")
	_ = userSetCmd.MarkFlagRequired("email")
	userCmd.AddCommand(userSetCmd)
	rootCmd.AddCommand(userCmd)
}

func setUser(ctx context.Context, store storage.Store, out io.Writer, email, tier, role string) error {
	if tier == "" && role == "" {
		return errors.New("nothing to change: pass --tier and/or --role")
	}
	user, err := store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if tier != "" {
		parsed, ok := plans.ParseTier(tier)
		if !ok {
			return fmt.Errorf("unknown tier %q", tier)
		}
		user.Tier = parsed
	}
	switch storage.Role(role) {
	case "":
	case storage.RoleUser, storage.RoleAdmin:
		user.Role = storage.Role(role)
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	if _, err := store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	fmt.Fprintf(out, "User %s (%s) now %s, role %s\n", user.Email, user.ID, user.Tier, user.Role)
	return nil
}
