// Package audio captures microphone input as the raw PCM accepted by the
// speech route.
package audio

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Device describes a PortAudio device
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultInput    bool
	HostAPI           string
}

func (d Device) IsInput() bool {
	return d.MaxInputChannels > 0
}

func (d Device) String() string {
	marker := ""
	if d.IsDefaultInput {
		marker = " (default)"
	}
	return fmt.Sprintf("%d: %s%s - %s, %d in / %d out, %.0f Hz",
		d.ID, d.Name, marker, d.HostAPI, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
}

// Devices lists the devices known to PortAudio
func Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	defaultInput, _ := portaudio.DefaultInputDevice()
	return toDevices(infos, defaultInput), nil
}

func toDevices(infos []*portaudio.DeviceInfo, defaultInput *portaudio.DeviceInfo) []Device {
	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		host := "unknown"
		if info.HostApi != nil {
			host = info.HostApi.Name
		}
		devices = append(devices, Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			IsDefaultInput:    defaultInput != nil && info == defaultInput,
			HostAPI:           host,
		})
	}
	return devices
}

// InputDevices filters devices able to record
func InputDevices(devices []Device) []Device {
	var inputs []Device
	for _, d := range devices {
		if d.IsInput() {
			inputs = append(inputs, d)
		}
	}
	return inputs
}

// FindDevice picks a device by numeric ID or by case-insensitive name prefix
func FindDevice(devices []Device, query string) (Device, error) {
	var id int
	if _, err := fmt.Sscanf(query, "%d", &id); err == nil {
		for _, d := range devices {
			if d.ID == id {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("device with ID %d not found", id)
	}
	for _, d := range devices {
		if strings.HasPrefix(strings.ToLower(d.Name), strings.ToLower(query)) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("device %q not found", query)
}
