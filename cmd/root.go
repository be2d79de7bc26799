/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/bizadmin/apiserver/config"
	"github.com/bizadmin/apiserver/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apiserver",
	Short: "Authentication and session backend for the business admin app",
	Long: `apiserver runs the authentication backend of the business admin app:
registration, login, cookie sessions and user administration.

	apiserver server
	apiserver worker
	apiserver migrate up
	apiserver users create-admin --name Root --email root@example.com`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadValidConfig reads the environment, builds the logger and rejects
// settings the services cannot run with.
func loadValidConfig() (config.Config, *logrus.Logger, error) {
	cfg := config.LoadConfig()
	log := logging.New(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, log, err
	}
	return cfg, log, nil
}
