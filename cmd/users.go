/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/bizadmin/apiserver/internal/auth"
	"github.com/bizadmin/apiserver/internal/db"
	"github.com/bizadmin/apiserver/internal/services"
	"github.com/bizadmin/apiserver/internal/store"
	"github.com/bizadmin/apiserver/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	adminName     string
	adminEmail    string
	adminPassword string
)

// usersCmd represents the users command
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	Long: `Creates an administrator account directly in the database. The password
is taken from --password or, when omitted, from ADMIN_PASSWORD.

	apiserver users create-admin --name Root --email root@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadValidConfig()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		password := adminPassword
		if password == "" {
			password = os.Getenv("ADMIN_PASSWORD")
		}
		if password == "" {
			return errors.New("a password is required (--password or ADMIN_PASSWORD)")
		}

		dbConn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		authService := services.NewAuthService(
			store.NewUserRepository(dbConn),
			auth.NewPasswordHasher(cfg.Auth.BcryptCost),
			auth.NewTokenManager(cfg.Auth.JWTSecret),
			nil,
			log,
			services.AuthOptions{RegistrationMode: services.RegistrationPassword},
		)

		// The command line is trusted to grant the admin role.
		operator := &types.User{Role: types.RoleAdmin}
		result, err := authService.Register(cmd.Context(), services.RegisterInput{
			Name:            adminName,
			Email:           adminEmail,
			Password:        password,
			ConfirmPassword: password,
			Role:            types.RoleAdmin,
		}, operator)
		if err != nil {
			var verr *services.ValidationError
			if errors.As(err, &verr) {
				for _, problem := range verr.Problems {
					fmt.Fprintln(cmd.ErrOrStderr(), problem)
				}
			}
			return err
		}

		log.WithFields(logrus.Fields{"user_id": result.User.ID, "email": result.User.Email}).Info("administrator created")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(createAdminCmd)

	createAdminCmd.Flags().StringVar(&adminName, "name", "", "display name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "login email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "initial password")
	_ = createAdminCmd.MarkFlagRequired("name")
	_ = createAdminCmd.MarkFlagRequired("email")
}
