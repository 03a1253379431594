package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rojolang/rintento-go/pkg/config"
	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/logger"
	"github.com/rojolang/rintento-go/pkg/service"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	gatewayURL string
	token      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rintento",
		Short: "Intent recognition gateway",
		Long:  "rintento relays text and speech to a wit.ai style backend and performs the recognized intents",
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (JSON or YAML), defaults to $"+config.EnvConfigPath)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "Gateway base URL for client commands (default http://localhost:<proxy port>)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token for client commands")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(recognizeCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		if intent.IsCriticalError(err) {
			fmt.Fprintln(os.Stderr, "Credentials were rejected: check RINTENTO_RECOGNIZE_AUTH, the auth secret or --token")
		}
		logger.GetGlobalLogger().WithError(err).Fatalf("CLI execution failed")
	}
}

// loadConfig reads --config, else $RINTENTO_CONFIG, else the environment
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromEnvironment()
	}
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "DEBUG"
	}
	logger.SetGlobalLogger(service.NewLogger(cfg))
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func baseURL(cfg *config.Config) string {
	if gatewayURL != "" {
		return gatewayURL
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Proxy.Port)
}
