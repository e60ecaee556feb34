// Package devices wraps the host audio backend: microphone capture, speaker
// output, and device enumeration.
package devices

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Info describes one host audio device.
type Info struct {
	Name    string
	Inputs  int
	Outputs int
}

// Init starts the audio backend. Pair with Terminate at shutdown.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize audio backend: %w", err)
	}
	return nil
}

// Terminate stops the audio backend.
func Terminate() error {
	return portaudio.Terminate()
}

// List enumerates available audio devices.
func List() ([]Info, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	infos := make([]Info, 0, len(devs))
	for _, d := range devs {
		infos = append(infos, Info{
			Name:    d.Name,
			Inputs:  d.MaxInputChannels,
			Outputs: d.MaxOutputChannels,
		})
	}
	return infos, nil
}

// matchDevice picks the first name containing want, case-insensitively. An
// empty want matches nothing.
func matchDevice(names []string, want string) (string, bool) {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return "", false
	}
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), want) {
			return name, true
		}
	}
	return "", false
}

// FindInput returns the name of the first input device matching want, or
// false when none does.
func FindInput(want string) (string, bool) {
	infos, err := List()
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(infos))
	for _, d := range infos {
		if d.Inputs > 0 {
			names = append(names, d.Name)
		}
	}
	return matchDevice(names, want)
}
