// Command mjuod runs the modular synthesis engine: it loads a project,
// opens the configured audio and MIDI endpoints, and drives the graph in
// real time.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/wwtos/mjuo-sub000/pkg/devices"
	"github.com/wwtos/mjuo-sub000/pkg/editor"
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
	"github.com/wwtos/mjuo-sub000/pkg/nodes"
)

// Config is the daemon's YAML configuration; flags override fields.
type Config struct {
	SampleRate    int               `yaml:"sampleRate"`
	BufferSize    int               `yaml:"bufferSize"`
	Channels      int               `yaml:"channels"`
	ArenaSlots    int               `yaml:"arenaSlots"`
	Project       string            `yaml:"project"`
	AudioInput    string            `yaml:"audioInput"`
	AudioOutput   string            `yaml:"audioOutput"`
	MidiInput     string            `yaml:"midiInput"`
	OscListen     string            `yaml:"oscListen"`
	LogLevel      string            `yaml:"logLevel"`
	DisableInput  bool              `yaml:"disableInput"`
	DisableOutput bool              `yaml:"disableOutput"`
	Samples       map[string]string `yaml:"samples"`
	Ranks         map[string]string `yaml:"ranks"`
	SoundFonts    map[string]string `yaml:"soundfonts"`
}

func defaultConfig() Config {
	return Config{
		SampleRate: 48000,
		BufferSize: 256,
		Channels:   2,
		ArenaSlots: 1 << 16,
		LogLevel:   "info",
	}
}

func loadConfig() (Config, error) {
	config := defaultConfig()

	configPath := pflag.StringP("config", "c", "", "path to YAML config")
	project := pflag.StringP("project", "p", "", "project document to load")
	sampleRate := pflag.Int("sample-rate", 0, "engine sample rate")
	bufferSize := pflag.Int("buffer-size", 0, "samples per block")
	audioOut := pflag.String("audio-output", "", "audio output device name")
	audioIn := pflag.String("audio-input", "", "audio input device name")
	midiIn := pflag.String("midi-input", "", "MIDI input port name")
	oscListen := pflag.String("osc-listen", "", "UDP address for OSC input, e.g. :9000")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error")
	pflag.Parse()

	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return config, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &config); err != nil {
			return config, fmt.Errorf("parse config: %w", err)
		}
	}

	if *project != "" {
		config.Project = *project
	}
	if *sampleRate != 0 {
		config.SampleRate = *sampleRate
	}
	if *bufferSize != 0 {
		config.BufferSize = *bufferSize
	}
	if *audioOut != "" {
		config.AudioOutput = *audioOut
	}
	if *audioIn != "" {
		config.AudioInput = *audioIn
	}
	if *midiIn != "" {
		config.MidiInput = *midiIn
	}
	if *oscListen != "" {
		config.OscListen = *oscListen
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}

	return config, nil
}

func main() {
	config, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "mjuod"})
	if level, err := log.ParseLevel(config.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if err := run(config, logger); err != nil {
		logger.Fatal("engine stopped", "err", err)
	}
}

func run(config Config, logger *log.Logger) error {
	soundConfig := engine.SoundConfig{SampleRate: config.SampleRate, BufferSize: config.BufferSize}
	registry := nodes.Registry()
	resources := engine.NewResources()

	state, err := editor.NewState(registry, soundConfig, resources, config.Channels)
	if err != nil {
		return fmt.Errorf("create editor state: %w", err)
	}

	if config.Project != "" {
		if err := state.LoadProjectFile(config.Project); err != nil {
			return fmt.Errorf("load project %q: %w", config.Project, err)
		}
		logger.Info("project loaded", "path", config.Project)
	}

	for name, path := range config.Samples {
		if err := state.LoadSampleFile(name, path, 0); err != nil {
			logger.Warn("sample not loaded", "name", name, "err", err)
			continue
		}
		logger.Info("sample loaded", "name", name, "path", path)
	}
	for name, path := range config.Ranks {
		if err := state.LoadRankFile(name, path); err != nil {
			logger.Warn("rank loaded with errors", "name", name, "err", err)
			continue
		}
		logger.Info("rank loaded", "name", name, "path", path)
	}
	for name, path := range config.SoundFonts {
		if err := state.LoadSoundFontFile(name, path); err != nil {
			logger.Warn("soundfont not loaded", "name", name, "err", err)
			continue
		}
		logger.Info("soundfont loaded", "name", name, "path", path)
	}

	manager := devices.NewManager(soundConfig)
	if err := manager.Start(); err != nil {
		return err
	}
	defer manager.Stop()

	updates := make(chan engine.Update, 64)
	events := make(chan engine.Event, 64)
	store := midi.NewStore(config.ArenaSlots, 1024)
	driver := engine.NewDriver(soundConfig, store, resources, updates, events)

	// compile the initial traverser before any audio flows
	traverser, warnings, err := state.BuildTraverser(0)
	if err != nil {
		return fmt.Errorf("compile root graph: %w", err)
	}
	for _, warning := range warnings {
		logger.Warn("node warning", "node", warning.Node, "msg", warning.Message)
	}
	updates <- engine.NewTraverserUpdate{Traverser: traverser}

	rules := state.RouteRules()

	if !config.DisableOutput {
		sink, err := manager.OpenAudioSink(config.AudioOutput, config.Channels)
		if err != nil {
			return err
		}
		logger.Info("audio output open", "device", sink.Name(), "channels", sink.Channels())
		updates <- engine.AddAudioSinkUpdate{Sink: sink}
		if len(rules) == 0 {
			for channel := 0; channel < sink.Channels() && channel < config.Channels; channel++ {
				rules = append(rules, engine.RouteRule{
					DeviceID: sink.ID(), Kind: engine.DeviceStream, Direction: engine.DirectionSink,
					DeviceChannel: channel, Node: state.IoNodes().Output, SocketIndex: 0, NodeChannel: channel,
				})
			}
		}
	}

	if !config.DisableInput {
		if source, err := manager.OpenMidiSource(config.MidiInput); err == nil {
			logger.Info("midi input open", "port", source.Name())
			updates <- engine.AddMidiSourceUpdate{Source: source}
			rules = append(rules, engine.RouteRule{
				DeviceID: source.ID(), Kind: engine.DeviceMidi, Direction: engine.DirectionSource,
				Node: state.IoNodes().Input,
			})
		} else {
			logger.Warn("no midi input", "err", err)
		}
	}

	if config.OscListen != "" {
		source, err := devices.OpenOscSource(config.OscListen)
		if err != nil {
			return fmt.Errorf("open osc listener: %w", err)
		}
		logger.Info("osc input open", "addr", config.OscListen)
		updates <- engine.AddMidiSourceUpdate{Source: source}
		rules = append(rules, engine.RouteRule{
			DeviceID: source.ID(), Kind: engine.DeviceMidi, Direction: engine.DirectionSource,
			Node: state.IoNodes().Input,
		})
	}

	updates <- engine.NewRouteRulesUpdate{Rules: rules}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go driver.Run(ctx)
	logger.Info("engine running",
		"sampleRate", config.SampleRate,
		"bufferSize", config.BufferSize,
		"channels", config.Channels)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "underruns", driver.Underruns())
			return nil
		case event := <-events:
			handleEvent(state, updates, event, logger)
		}
	}
}

func handleEvent(state *editor.State, updates chan<- engine.Update, event engine.Event, logger *log.Logger) {
	switch e := event.(type) {
	case engine.NodeStateUpdatesEvent:
		state.ApplyNodeStates(e.Changes)
	case engine.RequestedStateUpdatesEvent:
		// nodes asked to rewrite other nodes' states; bounce them back to
		// the audio thread as editor-approved updates
		select {
		case updates <- engine.NewNodeStatesUpdate{States: e.Updates}:
		default:
			logger.Warn("dropped state updates, channel full")
		}
	case engine.GraphStateRequestedEvent:
		select {
		case updates <- engine.CurrentGraphStateUpdate{States: state.NodeStates()}:
		default:
			logger.Warn("dropped graph state snapshot, channel full")
		}
	}
}
