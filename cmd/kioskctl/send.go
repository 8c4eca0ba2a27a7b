package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/kioskpush/internal/sender"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <image> [kiosk...]",
	Short: "Send an image to kiosks.",
	Long:  `Sends the image to every selected kiosk in parallel. Kiosks are address book names or addresses; none selects the whole book.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetUint64("duration")
		payload, err := sender.OpenPayload(args[0], duration)
		if err != nil {
			return err
		}
		client, targets, err := setup(cmd, args[1:])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		title := fmt.Sprintf("send %s (%s %dx%d, %d bytes)", args[0], payload.Format, payload.Width, payload.Height, payload.Size)
		if duration > 0 {
			title += fmt.Sprintf(" for %ds", duration)
		}
		return finish(title, client.SendAll(ctx, targets, payload))
	},
}

var showDefaultCmd = &cobra.Command{
	Use:   "show-default [kiosk...]",
	Short: "Revert kiosks to their default image.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, targets, err := setup(cmd, args)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return finish("show-default", client.ShowDefaultAll(ctx, targets))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [kiosk...]",
	Short: "Show what each kiosk is displaying.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, targets, err := setup(cmd, args)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rows := make([]statusRow, 0, len(targets))
		failed := false
		for _, t := range targets {
			st, err := client.Status(ctx, t)
			failed = failed || err != nil
			rows = append(rows, statusRow{Target: t, Status: st, Err: err})
		}
		fmt.Fprintln(os.Stdout, renderStatus(rows))
		if failed {
			return errSomeFailed
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().Uint64P("duration", "d", 0, "Seconds to show the image before reverting (0 keeps it)")
	rootCmd.AddCommand(sendCmd, showDefaultCmd, statusCmd)
}
