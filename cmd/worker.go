/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/bizadmin/apiserver/internal/mail"
	"github.com/bizadmin/apiserver/internal/mq"
	"github.com/bizadmin/apiserver/internal/notify"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Delivers queued account emails",
	Long: `Consumes notification jobs from the configured message queue
(MQ_BACKEND=rabbitmq or pubsub) and sends them over SMTP. Usage:

	apiserver worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadValidConfig()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if !cfg.UsesQueue() {
			return errors.New("worker requires MQ_BACKEND to be rabbitmq or pubsub")
		}

		sender, err := mail.NewSMTPSender(cfg.Mail)
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		defer func() {
			if err := queue.Close(); err != nil {
				log.WithError(err).Warn("closing message queue")
			}
		}()

		worker := notify.NewWorker(queue, cfg.MQ.MailChannel, notify.NewDirect(sender), log)
		return worker.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
