package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rojolang/rintento-go/pkg/audio"
	"github.com/rojolang/rintento-go/pkg/channel"
	"github.com/rojolang/rintento-go/pkg/client"
	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/logger"
	"github.com/rojolang/rintento-go/pkg/wit"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func recordCmd() *cobra.Command {
	var (
		duration time.Duration
		device   string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and recognize it",
		Long:  "Capture audio from a PortAudio input and stream it to the speech route while recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.GetGlobalLogger()

			audioConfig := audio.NewConfig()
			if device != "" {
				devices, err := audio.Devices()
				if err != nil {
					return err
				}
				d, err := audio.FindDevice(audio.InputDevices(devices), device)
				if err != nil {
					return err
				}
				audioConfig.DeviceID = &d.ID
				fmt.Printf("Using device: %s\n", d)
			}

			mic, err := audio.OpenMicrophone(audioConfig, log)
			if err != nil {
				return err
			}
			defer mic.Close()

			ctx, stop := signalContext()
			defer stop()

			pcm := channel.MustNew[[]byte](wit.DefaultAudioCapacity)
			var (
				stats      audio.Stats
				utterances intent.Utterances
			)
			// Ctrl+C ends the capture but the upload still waits for the result
			g, gctx := errgroup.WithContext(context.Background())
			captureCtx, stopCapture := context.WithCancel(ctx)
			defer stopCapture()
			context.AfterFunc(gctx, stopCapture)
			g.Go(func() error {
				var err error
				stats, err = audio.Pump(captureCtx, mic, mic.BlockSize(), audioConfig.SampleRate, duration, pcm)
				return err
			})
			g.Go(func() error {
				var err error
				utterances, err = client.New(baseURL(cfg), token).Speech(gctx, channel.NewReader(gctx, pcm))
				return err
			})

			if duration > 0 {
				fmt.Printf("Recording for %s (Ctrl+C to stop early)...\n", duration)
			} else {
				fmt.Println("Recording until Ctrl+C...")
			}
			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Printf("Captured %s: %d samples, %d bytes, peak %.3f, rms %.3f\n",
				stats.Duration.Round(time.Millisecond), stats.Samples, stats.Bytes, stats.Peak, stats.RMS())
			if stats.Silent() {
				fmt.Println("Warning: the recording looks silent, check the input device")
			}
			return printUtterances(utterances)
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "Recording length, 0 records until interrupted")
	cmd.Flags().StringVar(&device, "device", "", "Input device ID or name prefix")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the utterances as JSON")
	return cmd
}
