package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spanwire/spanwire"
)

var (
	listenBindFlag string
	listenPortFlag int
	listenEchoFlag bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run a listener that logs every payload and echoes it back",
	Long: `Listen binds a spanwire listener and prints its dialable address,
instance token included, on stdout. Every received payload is logged;
with echoing on (the default) it is also sent straight back, which is
what the send and ping commands expect on the other side.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bind := cfg.BindAddr
		if cmd.Flags().Changed("bind") {
			bind = listenBindFlag
		}
		port := cfg.BindPort
		if cmd.Flags().Changed("port") {
			port = listenPortFlag
		}

		l := spanwire.NewListener(&spanwire.ListenerConfig{
			BindAddr:      bind,
			BindPort:      port,
			AdvertiseAddr: cfg.AdvertiseAddr,
			MaxFrameBytes: cfg.MaxFrameBytes,
			LogHandler:    logHandler,
		})
		if err := l.Accept(serveConn); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), l.Addr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		l.RequestStop()
		return nil
	},
}

// serveConn drains one connection until the peer goes away.
func serveConn(conn *spanwire.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()

	for {
		payload, err := conn.Receive()
		if errors.Is(err, io.EOF) || errors.Is(err, spanwire.ErrConnClosed) {
			logger.Debug("peer disconnected", "peer", peer)
			return
		}
		if err != nil {
			logger.Warn("dropping connection", "peer", peer, "error", err)
			return
		}

		logger.Info("payload received", "peer", peer, "payload", fmt.Sprint(payload))
		if !listenEchoFlag {
			continue
		}
		if err := conn.Send(payload); err != nil {
			logger.Warn("echo failed", "peer", peer, "error", err)
			return
		}
	}
}

func init() {
	listenCmd.Flags().StringVar(&listenBindFlag, "bind", "", "address to bind, empty for every interface")
	listenCmd.Flags().IntVar(&listenPortFlag, "port", 0, "port to bind, 0 for an ephemeral one")
	listenCmd.Flags().BoolVar(&listenEchoFlag, "echo", true, "send every payload back to its sender")
	rootCmd.AddCommand(listenCmd)
}
