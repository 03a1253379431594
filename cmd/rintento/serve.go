package main

import (
	"fmt"
	"strings"

	"github.com/rojolang/rintento-go/pkg/logger"
	"github.com/rojolang/rintento-go/pkg/service"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  "Accept client connections, relay them to the recognition backend and publish the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Proxy.Port = port
			}
			if issues := cfg.Validate(); len(issues) > 0 {
				return fmt.Errorf("invalid configuration:\n  %s", strings.Join(issues, "\n  "))
			}

			log := logger.GetGlobalLogger()
			svc, err := service.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			log.Infof("Gateway on %s, backend %s", cfg.ListenAddr(), cfg.BackendAddr())
			return svc.Run(ctx, nil, nil)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the proxy port")
	return cmd
}
