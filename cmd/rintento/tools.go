package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rojolang/rintento-go/pkg/audio"
	"github.com/rojolang/rintento-go/pkg/gateway"
	"github.com/spf13/cobra"
)

func devicesCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := audio.Devices()
			if err != nil {
				return err
			}
			if !all {
				devices = audio.InputDevices(devices)
			}
			if len(devices) == 0 {
				fmt.Println("No audio devices found")
				return nil
			}
			fmt.Println("Audio devices:")
			for _, d := range devices {
				fmt.Printf("  %s\n", d)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include output-only devices")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the gateway",
		Long:  "Sign an HS256 token with the configured auth secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signed, err := gateway.NewAuthToken(cfg.Auth.Secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "rintento-cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.PrintConfig(os.Stdout)
			if issues := cfg.Validate(); len(issues) > 0 {
				fmt.Println("\nIssues:")
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
			}
			return nil
		},
	}
}
