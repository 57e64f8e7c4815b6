package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spanwire/spanwire"
)

var (
	sendTimeoutFlag time.Duration
	sendNoWaitFlag  bool
)

var sendCmd = &cobra.Command{
	Use:   "send ADDR PAYLOAD [PAYLOAD...]",
	Short: "Send payloads to a listener and print the echoes",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := spanwire.ParseAddr(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeoutFlag)
		defer cancel()

		conn, err := dialerFromConfig().Connect(ctx, addr)
		if err != nil {
			return err
		}
		defer conn.Close()

		// The deadline also covers the echoes: closing the connection is
		// what unblocks a stuck Receive.
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for _, payload := range args[1:] {
			if err := conn.Send(payload); err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
		}
		if sendNoWaitFlag {
			return nil
		}

		for range args[1:] {
			echo, err := spanwire.ReceiveAs[string](conn)
			if err != nil {
				return fmt.Errorf("no echo: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), echo)
		}
		return nil
	},
}

func dialerFromConfig() *spanwire.Dialer {
	return spanwire.NewDialer(&spanwire.DialerConfig{
		MaxFrameBytes: cfg.MaxFrameBytes,
		LogHandler:    logHandler,
	})
}

func init() {
	sendCmd.Flags().DurationVar(&sendTimeoutFlag, "timeout", 10*time.Second, "overall deadline for the exchange")
	sendCmd.Flags().BoolVar(&sendNoWaitFlag, "no-wait", false, "do not wait for echoes")
	rootCmd.AddCommand(sendCmd)
}
