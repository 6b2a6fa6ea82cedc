package devices

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
)

// ErrDeviceUnavailable is returned when a named device cannot be found or
// opened.
var ErrDeviceUnavailable = errors.New("device unavailable")

// DeviceInfo describes one available endpoint.
type DeviceInfo struct {
	Name       string
	Kind       engine.DeviceKind
	Direction  engine.DeviceDirection
	MaxInputs  int
	MaxOutputs int
}

// Manager enumerates audio and MIDI devices and opens/closes endpoint
// handles on demand. Opened endpoints are handed to the audio driver;
// the manager only tracks them for closing.
type Manager struct {
	config engine.SoundConfig

	mu          sync.Mutex
	initialized bool
	closers     map[string]func() error
}

// NewManager creates a device manager for the given engine timing.
func NewManager(config engine.SoundConfig) *Manager {
	return &Manager{config: config, closers: map[string]func() error{}}
}

// Start initializes the audio host API. Must be called before opening
// audio endpoints.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize audio host: %w", err)
	}
	m.initialized = true
	return nil
}

// Stop closes every open endpoint and terminates the host API.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, close := range m.closers {
		_ = close()
		delete(m.closers, id)
	}
	if m.initialized {
		m.initialized = false
		return portaudio.Terminate()
	}
	return nil
}

// Enumerate lists every available audio and MIDI endpoint.
func (m *Manager) Enumerate() ([]DeviceInfo, error) {
	var out []DeviceInfo

	audioDevices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate audio devices: %w", err)
	}
	for _, device := range audioDevices {
		if device.MaxInputChannels > 0 {
			out = append(out, DeviceInfo{
				Name: device.Name, Kind: engine.DeviceStream, Direction: engine.DirectionSource,
				MaxInputs: device.MaxInputChannels,
			})
		}
		if device.MaxOutputChannels > 0 {
			out = append(out, DeviceInfo{
				Name: device.Name, Kind: engine.DeviceStream, Direction: engine.DirectionSink,
				MaxOutputs: device.MaxOutputChannels,
			})
		}
	}

	ins, err := drivers.Ins()
	if err != nil {
		return nil, fmt.Errorf("enumerate midi inputs: %w", err)
	}
	for _, in := range ins {
		out = append(out, DeviceInfo{Name: in.String(), Kind: engine.DeviceMidi, Direction: engine.DirectionSource})
	}

	outs, err := drivers.Outs()
	if err != nil {
		return nil, fmt.Errorf("enumerate midi outputs: %w", err)
	}
	for _, port := range outs {
		out = append(out, DeviceInfo{Name: port.String(), Kind: engine.DeviceMidi, Direction: engine.DirectionSink})
	}

	return out, nil
}

// OpenAudioSource opens an input device by name ("" for the default).
func (m *Manager) OpenAudioSource(name string, channels int) (*PortAudioSource, error) {
	device, err := m.findAudioDevice(name, engine.DirectionSource)
	if err != nil {
		return nil, err
	}
	source, err := openPortAudioSource(device, m.config, channels)
	if err != nil {
		return nil, err
	}
	m.track(source.ID(), source.Close)
	return source, nil
}

// OpenAudioSink opens an output device by name ("" for the default).
func (m *Manager) OpenAudioSink(name string, channels int) (*PortAudioSink, error) {
	device, err := m.findAudioDevice(name, engine.DirectionSink)
	if err != nil {
		return nil, err
	}
	sink, err := openPortAudioSink(device, m.config, channels)
	if err != nil {
		return nil, err
	}
	m.track(sink.ID(), sink.Close)
	return sink, nil
}

// OpenMidiSource opens a MIDI input port by name ("" for the first).
func (m *Manager) OpenMidiSource(name string) (*MidiPortSource, error) {
	ins, err := drivers.Ins()
	if err != nil {
		return nil, err
	}
	for _, in := range ins {
		if name == "" || in.String() == name {
			source, err := openMidiSource(in)
			if err != nil {
				return nil, err
			}
			m.track(source.ID(), source.Close)
			return source, nil
		}
	}
	return nil, fmt.Errorf("midi input %q: %w", name, ErrDeviceUnavailable)
}

// OpenMidiSink opens a MIDI output port by name ("" for the first).
func (m *Manager) OpenMidiSink(name string) (*MidiPortSink, error) {
	outs, err := drivers.Outs()
	if err != nil {
		return nil, err
	}
	for _, out := range outs {
		if name == "" || out.String() == name {
			sink, err := openMidiSink(out)
			if err != nil {
				return nil, err
			}
			m.track(sink.ID(), sink.Close)
			return sink, nil
		}
	}
	return nil, fmt.Errorf("midi output %q: %w", name, ErrDeviceUnavailable)
}

// Close closes one endpoint by id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	close, ok := m.closers[id]
	delete(m.closers, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("endpoint %q: %w", id, ErrDeviceUnavailable)
	}
	return close()
}

func (m *Manager) track(id string, close func() error) {
	m.mu.Lock()
	m.closers[id] = close
	m.mu.Unlock()
}

func (m *Manager) findAudioDevice(name string, direction engine.DeviceDirection) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if direction == engine.DirectionSource {
			device, err := portaudio.DefaultInputDevice()
			if err != nil {
				return nil, fmt.Errorf("default input: %w", ErrDeviceUnavailable)
			}
			return device, nil
		}
		device, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("default output: %w", ErrDeviceUnavailable)
		}
		return device, nil
	}

	audioDevices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, device := range audioDevices {
		if device.Name != name {
			continue
		}
		if direction == engine.DirectionSource && device.MaxInputChannels > 0 {
			return device, nil
		}
		if direction == engine.DirectionSink && device.MaxOutputChannels > 0 {
			return device, nil
		}
	}
	return nil, fmt.Errorf("audio device %q: %w", name, ErrDeviceUnavailable)
}
