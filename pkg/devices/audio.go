package devices

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
)

// PortAudioSource captures frames from an input device. The portaudio
// callback interleaves into the ring; ReadBlock deinterleaves on the
// driver side.
type PortAudioSource struct {
	id       string
	name     string
	channels int
	stream   *portaudio.Stream
	ring     *FloatRing
	scratch  []float32
}

// ID returns the endpoint's stable identifier.
func (s *PortAudioSource) ID() string { return s.id }

// Name returns the device's display name.
func (s *PortAudioSource) Name() string { return s.name }

// Channels returns the channel count the endpoint was opened with.
func (s *PortAudioSource) Channels() int { return s.channels }

// ReadBlock drains one block since the last call, padding with silence if
// the device fell behind.
func (s *PortAudioSource) ReadBlock(dst [][]float32) {
	if len(dst) == 0 {
		return
	}
	samples := len(dst[0])
	needed := samples * s.channels
	if cap(s.scratch) < needed {
		s.scratch = make([]float32, needed)
	}
	buf := s.scratch[:needed]
	read := s.ring.Pop(buf)
	for i := read; i < needed; i++ {
		buf[i] = 0
	}

	for frame := 0; frame < samples; frame++ {
		for channel := 0; channel < s.channels && channel < len(dst); channel++ {
			dst[channel][frame] = buf[frame*s.channels+channel]
		}
	}
}

// Close stops and releases the stream.
func (s *PortAudioSource) Close() error {
	if err := s.stream.Stop(); err != nil {
		return err
	}
	return s.stream.Close()
}

var _ engine.AudioSource = (*PortAudioSource)(nil)

// PortAudioSink plays frames to an output device.
type PortAudioSink struct {
	id       string
	name     string
	channels int
	stream   *portaudio.Stream
	ring     *FloatRing
	scratch  []float32
}

// ID returns the endpoint's stable identifier.
func (s *PortAudioSink) ID() string { return s.id }

// Name returns the device's display name.
func (s *PortAudioSink) Name() string { return s.name }

// Channels returns the channel count the endpoint was opened with.
func (s *PortAudioSink) Channels() int { return s.channels }

// WriteBlock enqueues one block of frames. src channels beyond the device
// channel count are dropped; missing channels repeat the last one.
func (s *PortAudioSink) WriteBlock(src [][]float32) {
	if len(src) == 0 {
		return
	}
	samples := len(src[0])
	needed := samples * s.channels
	if cap(s.scratch) < needed {
		s.scratch = make([]float32, needed)
	}
	buf := s.scratch[:needed]

	for frame := 0; frame < samples; frame++ {
		for channel := 0; channel < s.channels; channel++ {
			from := channel
			if from >= len(src) {
				from = len(src) - 1
			}
			buf[frame*s.channels+channel] = src[from][frame]
		}
	}
	s.ring.Push(buf)
}

// Close stops and releases the stream.
func (s *PortAudioSink) Close() error {
	if err := s.stream.Stop(); err != nil {
		return err
	}
	return s.stream.Close()
}

var _ engine.AudioSink = (*PortAudioSink)(nil)

// openPortAudioSource opens an input stream on a device.
func openPortAudioSource(device *portaudio.DeviceInfo, config engine.SoundConfig, channels int) (*PortAudioSource, error) {
	if channels < 1 || channels > device.MaxInputChannels {
		channels = device.MaxInputChannels
	}
	if channels < 1 {
		return nil, fmt.Errorf("device %q has no input channels", device.Name)
	}

	source := &PortAudioSource{
		id:       uuid.NewString(),
		name:     device.Name,
		channels: channels,
		// four blocks of headroom between the callback and the driver
		ring: NewFloatRing(config.BufferSize * channels * 4),
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(config.SampleRate)
	params.FramesPerBuffer = config.BufferSize

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		source.ring.Push(in)
	})
	if err != nil {
		return nil, fmt.Errorf("open input stream on %q: %w", device.Name, err)
	}
	source.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start input stream on %q: %w", device.Name, err)
	}
	return source, nil
}

// openPortAudioSink opens an output stream on a device.
func openPortAudioSink(device *portaudio.DeviceInfo, config engine.SoundConfig, channels int) (*PortAudioSink, error) {
	if channels < 1 || channels > device.MaxOutputChannels {
		channels = device.MaxOutputChannels
	}
	if channels < 1 {
		return nil, fmt.Errorf("device %q has no output channels", device.Name)
	}

	sink := &PortAudioSink{
		id:       uuid.NewString(),
		name:     device.Name,
		channels: channels,
		ring:     NewFloatRing(config.BufferSize * channels * 4),
	}

	params := portaudio.LowLatencyParameters(nil, device)
	params.Output.Channels = channels
	params.SampleRate = float64(config.SampleRate)
	params.FramesPerBuffer = config.BufferSize

	stream, err := portaudio.OpenStream(params, func(out []float32) {
		read := sink.ring.Pop(out)
		for i := read; i < len(out); i++ {
			out[i] = 0
		}
	})
	if err != nil {
		return nil, fmt.Errorf("open output stream on %q: %w", device.Name, err)
	}
	sink.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start output stream on %q: %w", device.Name, err)
	}
	return sink, nil
}
