package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the principal, attempt and reset token tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, db, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		if err := st.EnsureTables(cmd.Context()); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
		if db != nil {
			if err := token.NewPgDenylist(db).EnsureTable(cmd.Context()); err != nil {
				return fmt.Errorf("ensure denylist table: %w", err)
			}
		}
		sugar.Info("schema is up to date")
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <kind> <id>",
	Short: "Clear the lockout of a principal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := entity.ParseKind(args[0])
		if err != nil {
			return err
		}
		svc, done, err := adminService(cmd)
		if err != nil {
			return err
		}
		defer done()
		if err := svc.Unlock(cmd.Context(), kind, args[1]); err != nil {
			return fmt.Errorf("unlock: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s %s\n", kind, args[1])
		return nil
	},
}

var principalCmd = &cobra.Command{
	Use:   "principal",
	Short: "Manage principals",
}

var principalCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a principal",
	RunE: func(cmd *cobra.Command, args []string) error {
		kindFlag, _ := cmd.Flags().GetString("kind")
		kind, err := entity.ParseKind(kindFlag)
		if err != nil {
			return err
		}
		in := auth.NewPrincipal{Kind: kind}
		in.LoginKey, _ = cmd.Flags().GetString("login-key")
		in.Email, _ = cmd.Flags().GetString("email")
		in.Role, _ = cmd.Flags().GetString("role")
		in.EmailVerified, _ = cmd.Flags().GetBool("email-verified")
		status, _ := cmd.Flags().GetString("status")
		if in.Status, err = entity.ParseStatus(status); err != nil {
			return err
		}
		// read from the environment so the secret stays out of shell history
		in.Password = os.Getenv("PRINCIPAL_PASSWORD")

		svc, done, err := adminService(cmd)
		if err != nil {
			return err
		}
		defer done()
		p, err := svc.CreatePrincipal(cmd.Context(), in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (login key %s)\n", p.Kind, p.ID, p.LoginKey)
		return nil
	},
}

func init() {
	f := principalCreateCmd.Flags()
	f.String("kind", "MEMBER", "MEMBER or EXTERNAL")
	f.String("login-key", "", "numeric member key, or the email for EXTERNAL")
	f.String("email", "", "email address")
	f.String("role", "", "role name")
	f.String("status", "ACTIVE", "ACTIVE, INACTIVE or SUSPENDED (EXTERNAL only)")
	f.Bool("email-verified", false, "mark the email as verified")
	_ = principalCreateCmd.MarkFlagRequired("role")
	principalCmd.AddCommand(principalCreateCmd)
}

func adminService(cmd *cobra.Command) (*auth.Service, func(), error) {
	st, _, closeStore, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	tokens, err := newTokenService(nil)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	svc, err := newAuthService(st, tokens)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return svc, closeStore, nil
}
