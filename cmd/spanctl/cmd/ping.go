package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spanwire/spanwire"
)

var (
	pingCountFlag    int
	pingIntervalFlag time.Duration
	pingTimeoutFlag  time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping ADDR",
	Short: "Measure round trips against an echoing listener",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if pingCountFlag < 1 {
			return fmt.Errorf("count must be positive, got %d", pingCountFlag)
		}
		addr, err := spanwire.ParseAddr(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeoutFlag)
		defer cancel()

		conn, err := dialerFromConfig().Connect(ctx, addr)
		if err != nil {
			return err
		}
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		var min, max, total time.Duration
		for i := 0; i < pingCountFlag; i++ {
			if i > 0 {
				time.Sleep(pingIntervalFlag)
			}

			seq := fmt.Sprintf("ping-%d", i)
			start := time.Now()
			if err := conn.Send(seq); err != nil {
				return fmt.Errorf("ping %d failed: %w", i, err)
			}
			echo, err := spanwire.ReceiveAs[string](conn)
			if err != nil {
				return fmt.Errorf("ping %d got no echo: %w", i, err)
			}
			if echo != seq {
				return fmt.Errorf("ping %d echoed %q", i, echo)
			}

			rtt := time.Since(start)
			fmt.Fprintf(cmd.OutOrStdout(), "seq=%d rtt=%s\n", i, rtt)

			total += rtt
			if rtt > max {
				max = rtt
			}
			if rtt < min || min == 0 {
				min = rtt
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d round trips: min=%s avg=%s max=%s\n",
			pingCountFlag, min, total/time.Duration(pingCountFlag), max)
		return nil
	},
}

func init() {
	pingCmd.Flags().IntVar(&pingCountFlag, "count", 4, "number of round trips")
	pingCmd.Flags().DurationVar(&pingIntervalFlag, "interval", time.Second, "pause between round trips")
	pingCmd.Flags().DurationVar(&pingTimeoutFlag, "timeout", time.Minute, "overall deadline")
	rootCmd.AddCommand(pingCmd)
}
