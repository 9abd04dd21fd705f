package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/identity"
	"github.com/nutricoach/mfaauth/store/gormstore"
)

const seedPasswordEnv = "MFAAUTH_SEED_PASSWORD"

func newSeedAdminCommand(configPath *string) *cobra.Command {
	var (
		email       string
		mfaRequired bool
	)
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create an administrator account",
		Long: "Create an administrator account. The password is read from " +
			seedPasswordEnv + " or prompted for on a terminal.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, logger, err := loadSettings(*configPath)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			hasher, err := identity.NewHasher(identity.DefaultHashConfig())
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(password)
			if err != nil {
				return err
			}

			db, err := openDatabase(s)
			if err != nil {
				return err
			}
			defer closeDatabase(db, logger)

			account := &credential.Account{
				Email:            email,
				PasswordHash:     hash,
				Role:             "admin",
				SubscriptionTier: "free",
				MFARequired:      mfaRequired,
			}
			if err := gormstore.New(db).CreateAccount(cmd.Context(), account); err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			logger.Info("admin account created", "account_id", account.ID, "email", account.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "administrator email")
	cmd.Flags().BoolVar(&mfaRequired, "mfa-required", true, "require a second factor once one is enrolled")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	if pw := os.Getenv(seedPasswordEnv); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", errors.New("no password on stdin")
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
