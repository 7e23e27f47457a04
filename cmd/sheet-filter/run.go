package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apiserver "github.com/kubev2v/sheet-filter/internal/api_server"
	"github.com/kubev2v/sheet-filter/internal/cli"
	handlers "github.com/kubev2v/sheet-filter/internal/handlers/v1"
)

func newRunCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sheet filter api",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := cli.NewComponents(configFile)
			if err != nil {
				return err
			}
			defer cleanup()

			zap.S().Info("Starting API service")
			defer zap.S().Info("API service stopped")

			// keep the interface nil rather than holding a nil *store.Local
			var files handlers.FileSource
			if c.Files != nil {
				files = c.Files
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
			defer cancel()

			go func() {
				defer cancel()
				listener, err := newListener(c.Config.Service.Address)
				if err != nil {
					zap.S().Fatalf("creating listener: %s", err)
				}

				server := apiserver.New(c.Config, c.Filter, c.Proxy, files, listener)
				if err := server.Run(ctx); err != nil {
					zap.S().Fatalf("Error running server: %s", err)
				}
			}()

			go func() {
				defer cancel()
				listener, err := newListener(c.Config.Service.MetricsAddress)
				if err != nil {
					zap.S().Fatalf("creating listener: %s", err)
				}

				metricsServer := apiserver.NewMetricServer(c.Config.Service.MetricsAddress, listener, c.Filter.Jobs())
				if err := metricsServer.Run(ctx); err != nil {
					zap.S().Fatalf("Error running metrics server: %s", err)
				}
			}()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	return cmd
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
