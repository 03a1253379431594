package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rojolang/rintento-go/pkg/client"
	"github.com/rojolang/rintento-go/pkg/config"
	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/service"
	"github.com/rojolang/rintento-go/pkg/wit"
	"github.com/spf13/cobra"
)

var (
	direct  bool
	asJSON  bool
	timeout time.Duration
)

func recognizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recognize",
		Short: "Recognize a message or an audio file",
		Long:  "Send a message or a raw PCM file through the gateway, or straight to the backend with --direct",
	}
	cmd.PersistentFlags().BoolVar(&direct, "direct", false, "Talk to the backend instead of the gateway")
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print the utterances as JSON")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Give up after this long")

	cmd.AddCommand(recognizeMessageCmd())
	cmd.AddCommand(recognizeSpeechCmd())
	return cmd
}

func recognizeMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message [text...]",
		Short: "Recognize a text message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := recognizeContext()
			defer cancel()

			text := strings.Join(args, " ")
			var utterances intent.Utterances
			if direct {
				utterances, err = recognizeDirect(ctx, cfg, wit.MessageRequest{Text: text})
			} else {
				utterances, err = client.New(baseURL(cfg), token).Message(ctx, text)
			}
			if err != nil {
				return err
			}
			return printUtterances(utterances)
		},
	}
}

func recognizeSpeechCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "speech [audio-file]",
		Short: "Recognize a raw PCM file (16 bit, 16 kHz, mono, little endian)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := recognizeContext()
			defer cancel()

			var utterances intent.Utterances
			if direct {
				utterances, err = recognizeFile(ctx, cfg, args[0])
			} else {
				var f *os.File
				if f, err = os.Open(args[0]); err != nil {
					return err
				}
				defer f.Close()
				utterances, err = client.New(baseURL(cfg), token).Speech(ctx, f)
			}
			if err != nil {
				return err
			}
			return printUtterances(utterances)
		},
	}
}

func recognizeContext() (context.Context, context.CancelFunc) {
	ctx, stop := signalContext()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func recognizeDirect(ctx context.Context, cfg *config.Config, req wit.Request) (intent.Utterances, error) {
	r, err := wit.NewRecognizer(service.Settings(cfg))
	if err != nil {
		return nil, err
	}
	p, err := r.Recognize(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

func recognizeFile(ctx context.Context, cfg *config.Config, path string) (intent.Utterances, error) {
	r, err := wit.NewRecognizer(service.Settings(cfg))
	if err != nil {
		return nil, err
	}
	p, err := r.RecognizeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

func printUtterances(utterances intent.Utterances) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(utterances)
	}
	for _, u := range utterances {
		marker := " "
		if u.Final {
			marker = "*"
		}
		fmt.Printf("%s %q\n", marker, u.Text)
		for _, i := range u.Intents {
			fmt.Printf("    %-24s %.3f\n", i.Name, i.Confidence)
		}
	}
	return nil
}
