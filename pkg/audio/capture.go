package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rojolang/rintento-go/pkg/channel"
	"github.com/rojolang/rintento-go/pkg/logger"
)

// Config selects the capture format. The speech route expects mono signed
// 16 bit little endian at 16 kHz.
type Config struct {
	SampleRate int
	Channels   int
	BufferSize int
	DeviceID   *int
}

func NewConfig() *Config {
	return &Config{
		SampleRate: 16000,
		Channels:   1,
		BufferSize: 1600,
	}
}

func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", c.Channels)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid buffer size: %d", c.BufferSize)
	}
	return nil
}

// Stats summarizes captured audio
type Stats struct {
	Duration time.Duration
	Samples  int
	Bytes    int
	Peak     float64
	sumSq    float64
}

// Add accounts for a block of samples
func (s *Stats) Add(samples []int16) {
	for _, v := range samples {
		f := float64(v) / math.MaxInt16
		s.sumSq += f * f
		if a := math.Abs(f); a > s.Peak {
			s.Peak = a
		}
	}
	s.Samples += len(samples)
	s.Bytes += 2 * len(samples)
}

// RMS is the root mean square amplitude in [0,1]
func (s *Stats) RMS() float64 {
	if s.Samples == 0 {
		return 0
	}
	return math.Sqrt(s.sumSq / float64(s.Samples))
}

// Silent reports audio that is unlikely to contain speech
func (s *Stats) Silent() bool {
	return s.RMS() < 0.01
}

// EncodePCM16 writes samples as signed 16 bit little endian
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// Source delivers blocks of samples. Read fills buf entirely.
type Source interface {
	Read(buf []int16) error
}

// Pump reads from src until ctx is done or duration elapses, pushing encoded
// blocks into audio. The channel is closed on success and canceled on failure.
func Pump(ctx context.Context, src Source, blockSize int, sampleRate int, duration time.Duration, audio *channel.Bounded[[]byte]) (Stats, error) {
	var stats Stats
	buf := make([]int16, blockSize)
	started := time.Now()
	var limit int
	if duration > 0 {
		limit = int(duration.Seconds() * float64(sampleRate))
	}
	for limit == 0 || stats.Samples < limit {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := src.Read(buf); err != nil {
			audio.Cancel()
			return stats, fmt.Errorf("read audio: %w", err)
		}
		block := buf
		if limit > 0 && stats.Samples+len(block) > limit {
			block = block[:limit-stats.Samples]
		}
		stats.Add(block)
		if err := audio.Push(ctx, EncodePCM16(block)); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			audio.Cancel()
			return stats, err
		}
	}
	stats.Duration = time.Since(started)
	audio.Close()
	return stats, nil
}

// Microphone is a PortAudio input stream
type Microphone struct {
	config *Config
	stream *portaudio.Stream
	buf    []int16
	log    *logger.Logger
}

// OpenMicrophone initializes PortAudio and opens the configured input
func OpenMicrophone(config *Config, log *logger.Logger) (*Microphone, error) {
	if config == nil {
		config = NewConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	m := &Microphone{config: config, buf: make([]int16, config.BufferSize*config.Channels), log: log.WithComponent("microphone")}
	var err error
	if config.DeviceID != nil {
		m.stream, err = m.openDevice(*config.DeviceID)
	} else {
		m.stream, err = portaudio.OpenDefaultStream(config.Channels, 0, float64(config.SampleRate), config.BufferSize, m.buf)
	}
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := m.stream.Start(); err != nil {
		m.stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	m.log.Infof("Recording at %d Hz, %d channel(s)", config.SampleRate, config.Channels)
	return m, nil
}

func (m *Microphone) openDevice(id int) (*portaudio.Stream, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(infos) {
		return nil, fmt.Errorf("device with ID %d not found", id)
	}
	p := portaudio.LowLatencyParameters(infos[id], nil)
	p.Input.Channels = m.config.Channels
	p.SampleRate = float64(m.config.SampleRate)
	p.FramesPerBuffer = m.config.BufferSize
	return portaudio.OpenStream(p, m.buf)
}

// Read blocks until buf is filled with captured samples
func (m *Microphone) Read(buf []int16) error {
	for filled := 0; filled < len(buf); {
		if err := m.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return err
		}
		filled += copy(buf[filled:], m.buf)
	}
	return nil
}

// BlockSize is the number of samples produced per Read
func (m *Microphone) BlockSize() int {
	return len(m.buf)
}

func (m *Microphone) Close() error {
	err := m.stream.Stop()
	if cerr := m.stream.Close(); err == nil {
		err = cerr
	}
	portaudio.Terminate()
	return err
}
