// Command adminctl manages staff accounts: it creates a sign-in identity and
// grants or checks the admin role.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"

	"herfrequency/cmd/buildCFG"
	"herfrequency/internal/auth"
	"herfrequency/internal/model"
	"herfrequency/internal/repo"
)

const passwordEnv = "HF_ADMIN_PASSWORD"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "adminctl",
		Short:        "Manage staff accounts and the admin role",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Config file path")

	cmd.AddCommand(createCmd(&configPath), grantCmd(&configPath), checkCmd(&configPath))
	return cmd
}

func open(configPath string) (repo.Repository, func(), *zerolog.Logger, error) {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load(configPath, "", "HF"); err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	sc, err := buildCFG.BuildStorageConfig(cfg, &log)
	if err != nil {
		return nil, nil, nil, err
	}
	if sc.Driver != buildCFG.DriverPostgres {
		return nil, nil, nil, errors.New("adminctl needs storage.driver=postgres")
	}
	r, closeDB, err := buildCFG.BuildRepository(cfg, sc, &log)
	if err != nil {
		return nil, nil, nil, err
	}
	return r, closeDB, &log, nil
}

func createCmd(configPath *string) *cobra.Command {
	var email string
	var admin bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff identity; the password is read from " + passwordEnv,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv(passwordEnv)
			if len(password) < 12 {
				return fmt.Errorf("%s must hold a password of at least 12 characters", passwordEnv)
			}
			r, closeDB, log, err := open(*configPath)
			if err != nil {
				return err
			}
			defer closeDB()
			return createUser(cmd.Context(), r, log, email, password, admin)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Staff email address")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func grantCmd(configPath *string) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant the admin role to an existing identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeDB, log, err := open(*configPath)
			if err != nil {
				return err
			}
			defer closeDB()
			return grantAdmin(cmd.Context(), r, log, email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Staff email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func checkCmd(configPath *string) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether an identity holds the admin role",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeDB, _, err := open(*configPath)
			if err != nil {
				return err
			}
			defer closeDB()
			u, err := r.GetUserByEmail(cmd.Context(), email)
			if err != nil {
				return err
			}
			ok, err := r.HasRole(cmd.Context(), u.ID, model.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s admin=%t\n", u.Email, ok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Staff email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

type accounts interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GrantRole(ctx context.Context, userID string, role model.Role) error
}

func createUser(ctx context.Context, r accounts, log *zerolog.Logger, email, password string, admin bool) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u := &model.User{Email: strings.ToLower(strings.TrimSpace(email)), PasswordHash: hash}
	if err := r.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("create %s: %w", u.Email, err)
	}
	log.Info().Str("user_id", u.ID).Msg("staff identity created")
	if !admin {
		return nil
	}
	return grantAdmin(ctx, r, log, u.Email)
}

func grantAdmin(ctx context.Context, r accounts, log *zerolog.Logger, email string) error {
	u, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find %s: %w", email, err)
	}
	if err := r.GrantRole(ctx, u.ID, model.RoleAdmin); err != nil {
		return fmt.Errorf("grant admin to %s: %w", email, err)
	}
	log.Info().Str("user_id", u.ID).Msg("admin role granted")
	return nil
}
