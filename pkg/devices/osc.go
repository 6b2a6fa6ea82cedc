package devices

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hypebeast/go-osc/osc"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// OSC address scheme. OSC endpoints and MIDI ports feed the same message
// bundle type; the addresses mirror the message kinds one to one.
const (
	oscNoteOn          = "/note_on"
	oscNoteOff         = "/note_off"
	oscAftertouch      = "/aftertouch"
	oscControlChange   = "/control_change"
	oscProgramChange   = "/program_change"
	oscChannelPressure = "/channel_pressure"
	oscPitchBend       = "/pitch_bend"
	oscRealtimeStart   = "/realtime/start"
	oscRealtimeStop    = "/realtime/stop"
	oscRealtimeReset   = "/realtime/reset"
)

// MessageToOsc converts an engine message to its OSC form. Returns nil
// for kinds with no OSC address.
func MessageToOsc(message midi.Message) *osc.Message {
	switch message.Kind {
	case midi.KindNoteOn:
		return osc.NewMessage(oscNoteOn, int32(message.Channel), int32(message.Note()), int32(message.Velocity()))
	case midi.KindNoteOff:
		return osc.NewMessage(oscNoteOff, int32(message.Channel), int32(message.Note()), int32(message.Velocity()))
	case midi.KindAftertouch:
		return osc.NewMessage(oscAftertouch, int32(message.Channel), int32(message.Data1), int32(message.Data2))
	case midi.KindControlChange:
		return osc.NewMessage(oscControlChange, int32(message.Channel), int32(message.Data1), int32(message.Data2))
	case midi.KindProgramChange:
		return osc.NewMessage(oscProgramChange, int32(message.Channel), int32(message.Data1))
	case midi.KindChannelPressure:
		return osc.NewMessage(oscChannelPressure, int32(message.Channel), int32(message.Data1))
	case midi.KindPitchBend:
		return osc.NewMessage(oscPitchBend, int32(message.Channel), int32(message.Bend))
	case midi.KindStart:
		return osc.NewMessage(oscRealtimeStart)
	case midi.KindStop:
		return osc.NewMessage(oscRealtimeStop)
	case midi.KindReset:
		return osc.NewMessage(oscRealtimeReset)
	}
	return nil
}

// OscToMessage converts an incoming OSC message. Returns false for
// unknown addresses or malformed arguments.
func OscToMessage(in *osc.Message) (midi.Message, bool) {
	ints := make([]int32, 0, 3)
	for _, arg := range in.Arguments {
		switch v := arg.(type) {
		case int32:
			ints = append(ints, v)
		case int64:
			ints = append(ints, int32(v))
		case float32:
			ints = append(ints, int32(v))
		}
	}

	need := func(n int) bool { return len(ints) >= n }

	switch in.Address {
	case oscNoteOn:
		if need(3) {
			return midi.NewNoteOn(uint8(ints[0]), uint8(ints[1]), uint8(ints[2]), 0), true
		}
	case oscNoteOff:
		if need(3) {
			return midi.NewNoteOff(uint8(ints[0]), uint8(ints[1]), uint8(ints[2]), 0), true
		}
	case oscAftertouch:
		if need(3) {
			return midi.Message{Kind: midi.KindAftertouch, Channel: uint8(ints[0]), Data1: uint8(ints[1]), Data2: uint8(ints[2])}, true
		}
	case oscControlChange:
		if need(3) {
			return midi.NewControlChange(uint8(ints[0]), uint8(ints[1]), uint8(ints[2]), 0), true
		}
	case oscProgramChange:
		if need(2) {
			return midi.Message{Kind: midi.KindProgramChange, Channel: uint8(ints[0]), Data1: uint8(ints[1])}, true
		}
	case oscChannelPressure:
		if need(2) {
			return midi.Message{Kind: midi.KindChannelPressure, Channel: uint8(ints[0]), Data1: uint8(ints[1])}, true
		}
	case oscPitchBend:
		if need(2) {
			return midi.NewPitchBend(uint8(ints[0]), int16(ints[1]), 0), true
		}
	case oscRealtimeStart:
		return midi.Message{Kind: midi.KindStart}, true
	case oscRealtimeStop:
		return midi.Message{Kind: midi.KindStop}, true
	case oscRealtimeReset:
		return midi.Message{Kind: midi.KindReset}, true
	}
	return midi.Message{}, false
}

// OscSource receives messages over UDP.
type OscSource struct {
	id     string
	name   string
	server *osc.Server

	mu      sync.Mutex
	pending []midi.Message
}

// ID returns the endpoint's stable identifier.
func (s *OscSource) ID() string { return s.id }

// Name returns the listen address.
func (s *OscSource) Name() string { return s.name }

// ReadMessages appends everything received since the last call to dst.
func (s *OscSource) ReadMessages(dst []midi.Message) []midi.Message {
	s.mu.Lock()
	dst = append(dst, s.pending...)
	s.pending = s.pending[:0]
	s.mu.Unlock()
	return dst
}

// Close shuts the UDP listener down.
func (s *OscSource) Close() error { return s.server.CloseConnection() }

var _ engine.MidiSource = (*OscSource)(nil)

// OpenOscSource listens for OSC messages on a UDP address.
func OpenOscSource(address string) (*OscSource, error) {
	source := &OscSource{
		id:      uuid.NewString(),
		name:    "osc:" + address,
		pending: make([]midi.Message, 0, 256),
	}

	dispatcher := osc.NewStandardDispatcher()
	handle := func(in *osc.Message) {
		message, ok := OscToMessage(in)
		if !ok {
			return
		}
		source.mu.Lock()
		source.pending = append(source.pending, message)
		source.mu.Unlock()
	}
	for _, address := range []string{
		oscNoteOn, oscNoteOff, oscAftertouch, oscControlChange,
		oscProgramChange, oscChannelPressure, oscPitchBend,
		oscRealtimeStart, oscRealtimeStop, oscRealtimeReset,
	} {
		if err := dispatcher.AddMsgHandler(address, handle); err != nil {
			return nil, err
		}
	}

	source.server = &osc.Server{Addr: address, Dispatcher: dispatcher}
	go func() {
		if err := source.server.ListenAndServe(); err != nil {
			// listener closed or address unavailable; nothing to recover
			_ = err
		}
	}()

	return source, nil
}

// OscSink sends messages over UDP.
type OscSink struct {
	id     string
	name   string
	client *osc.Client
}

// ID returns the endpoint's stable identifier.
func (s *OscSink) ID() string { return s.id }

// Name returns the target address.
func (s *OscSink) Name() string { return s.name }

// WriteMessages sends each message that has an OSC form.
func (s *OscSink) WriteMessages(msgs []midi.Message) {
	for _, message := range msgs {
		if out := MessageToOsc(message); out != nil {
			_ = s.client.Send(out)
		}
	}
}

// Close is a no-op; the client is connectionless.
func (s *OscSink) Close() error { return nil }

var _ engine.MidiSink = (*OscSink)(nil)

// OpenOscSink creates a UDP sender.
func OpenOscSink(host string, port int) *OscSink {
	return &OscSink{
		id:     uuid.NewString(),
		name:   fmt.Sprintf("osc:%s:%d", host, port),
		client: osc.NewClient(host, port),
	}
}
