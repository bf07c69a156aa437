package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAdminEmail    = "admin@example.com"
	defaultAdminPassword = "admin"
)

var (
	superuserEmail    string
	superuserPassword string
	superuserName     string
	passwordEmail     string
	newPassword       string
	activeFlag        bool
	inactiveFlag      bool
)

var createSuperuserCmd = &cobra.Command{
	Use:   "create-superuser",
	Short: "Create the administrator account if it does not exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(func(repo store.Repository) error {
			return createSuperuser(cmd.Context(), repo, cmd.OutOrStdout(), superuserEmail, superuserPassword, superuserName)
		})
	},
}

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Change a user's password",
	Long: `Change a user's password. The email and password default to the
USER_EMAIL and USER_PASSWORD environment variables.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(func(repo store.Repository) error {
			return setPassword(cmd.Context(), repo, cmd.OutOrStdout(), passwordEmail, newPassword)
		})
	},
}

var manageUserCmd = &cobra.Command{
	Use:   "manage-user <email>",
	Short: "Activate or deactivate a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if activeFlag && inactiveFlag {
			return fmt.Errorf("--active and --inactive are mutually exclusive")
		}
		return withStore(func(repo store.Repository) error {
			return setUserActive(cmd.Context(), repo, cmd.OutOrStdout(), args[0], !inactiveFlag)
		})
	},
}

func init() {
	createSuperuserCmd.Flags().StringVar(&superuserEmail, "email", defaultAdminEmail, "administrator email")
	createSuperuserCmd.Flags().StringVar(&superuserPassword, "password", defaultAdminPassword, "administrator password")
	createSuperuserCmd.Flags().StringVar(&superuserName, "name", "System Administrator", "administrator full name")

	setPasswordCmd.Flags().StringVar(&passwordEmail, "email", envOr("USER_EMAIL", defaultAdminEmail), "user email")
	setPasswordCmd.Flags().StringVar(&newPassword, "password", envOr("USER_PASSWORD", ""), "new password")

	manageUserCmd.Flags().BoolVar(&activeFlag, "active", false, "activate the user (default)")
	manageUserCmd.Flags().BoolVar(&inactiveFlag, "inactive", false, "deactivate the user")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func createSuperuser(ctx context.Context, repo store.Repository, out io.Writer, email, password, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	existing, err := repo.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		fmt.Fprintf(out, "Superuser %s already exists, skipping creation.\n", email)
		return nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := repo.UpsertUser(ctx, &domain.User{
		ID:             uuid.NewString(),
		Email:          email,
		HashedPassword: hash,
		FullName:       name,
		Role:           domain.RoleAdmin,
		IsActive:       true,
		IsVerified:     true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return err
	}

	fmt.Fprintf(out, "Superuser %s created.\n", email)
	if password == defaultAdminPassword {
		fmt.Fprintln(out, "Change the default password with set-password.")
	}
	return nil
}

func setPassword(ctx context.Context, repo store.Repository, out io.Writer, email, password string) error {
	if password == "" {
		return fmt.Errorf("a new password is required (--password or USER_PASSWORD)")
	}
	user, err := lookupUser(ctx, repo, email)
	if err != nil {
		return err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	user.HashedPassword = hash
	user.UpdatedAt = time.Now().UTC()
	if err := repo.UpsertUser(ctx, user); err != nil {
		return err
	}
	fmt.Fprintf(out, "Password for %s changed.\n", user.Email)
	return nil
}

func setUserActive(ctx context.Context, repo store.Repository, out io.Writer, email string, active bool) error {
	user, err := lookupUser(ctx, repo, email)
	if err != nil {
		return err
	}

	user.IsActive = active
	user.UpdatedAt = time.Now().UTC()
	if err := repo.UpsertUser(ctx, user); err != nil {
		return err
	}

	status := "activated"
	if !active {
		status = "deactivated"
	}
	fmt.Fprintf(out, "User %s has been %s.\n", user.Email, status)
	return nil
}

func lookupUser(ctx context.Context, repo store.Repository, email string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &domain.NotFoundError{Resource: "user", ID: email}
	}
	return user, nil
}
