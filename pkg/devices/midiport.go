package devices

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// MidiPortSource receives messages from a MIDI input port. The port
// listener parses and buffers; ReadMessages drains on the driver side.
type MidiPortSource struct {
	id   string
	name string
	port drivers.In
	stop func()

	mu      sync.Mutex
	pending []midi.Message
}

// ID returns the endpoint's stable identifier.
func (s *MidiPortSource) ID() string { return s.id }

// Name returns the port's display name.
func (s *MidiPortSource) Name() string { return s.name }

// ReadMessages appends everything received since the last call to dst.
func (s *MidiPortSource) ReadMessages(dst []midi.Message) []midi.Message {
	s.mu.Lock()
	dst = append(dst, s.pending...)
	s.pending = s.pending[:0]
	s.mu.Unlock()
	return dst
}

// Close stops listening and closes the port.
func (s *MidiPortSource) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return s.port.Close()
}

var _ engine.MidiSource = (*MidiPortSource)(nil)

// MidiPortSink sends messages to a MIDI output port.
type MidiPortSink struct {
	id   string
	name string
	port drivers.Out
}

// ID returns the endpoint's stable identifier.
func (s *MidiPortSink) ID() string { return s.id }

// Name returns the port's display name.
func (s *MidiPortSink) Name() string { return s.name }

// WriteMessages sends each message's wire bytes to the port. Messages
// with no wire form are skipped.
func (s *MidiPortSink) WriteMessages(msgs []midi.Message) {
	for _, message := range msgs {
		if raw := message.Bytes(); raw != nil {
			_ = s.port.Send(raw)
		}
	}
}

// Close closes the port.
func (s *MidiPortSink) Close() error { return s.port.Close() }

var _ engine.MidiSink = (*MidiPortSink)(nil)

// openMidiSource opens and listens to an input port.
func openMidiSource(port drivers.In) (*MidiPortSource, error) {
	if err := port.Open(); err != nil {
		return nil, fmt.Errorf("open midi input %q: %w", port.String(), err)
	}

	source := &MidiPortSource{
		id:      uuid.NewString(),
		name:    port.String(),
		port:    port,
		pending: make([]midi.Message, 0, 256),
	}

	stop, err := port.Listen(func(raw []byte, timestampMs int32) {
		message := midi.ParseBytes(raw, time.Duration(timestampMs)*time.Millisecond)
		if message.Kind == midi.KindNone {
			return
		}
		source.mu.Lock()
		source.pending = append(source.pending, message)
		source.mu.Unlock()
	}, drivers.ListenConfig{TimeCode: true, ActiveSense: false})
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("listen on midi input %q: %w", port.String(), err)
	}
	source.stop = stop

	return source, nil
}

// openMidiSink opens an output port.
func openMidiSink(port drivers.Out) (*MidiPortSink, error) {
	if err := port.Open(); err != nil {
		return nil, fmt.Errorf("open midi output %q: %w", port.String(), err)
	}
	return &MidiPortSink{id: uuid.NewString(), name: port.String(), port: port}, nil
}
