package editor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
)

// LoadSampleFile decodes a WAV file into a mono sample resource and
// registers it in the catalog under the given name. Multi-channel files
// are mixed down; rootNote 0 defaults to middle C.
func (s *State) LoadSampleFile(name, path string, rootNote uint8) error {
	sample, err := decodeSampleFile(path, rootNote)
	if err != nil {
		return err
	}
	s.resources.AddSample(name, sample)
	return nil
}

func sampleFromBuffer(buffer *audio.IntBuffer, rootNote uint8) (*engine.Sample, error) {
	if buffer == nil || buffer.Format == nil || buffer.Format.NumChannels < 1 {
		return nil, fmt.Errorf("empty or malformed audio buffer")
	}

	floats := buffer.AsFloat32Buffer()
	channels := buffer.Format.NumChannels
	frames := len(floats.Data) / channels

	data := make([]float32, frames)
	for frame := 0; frame < frames; frame++ {
		var sum float32
		for channel := 0; channel < channels; channel++ {
			sum += floats.Data[frame*channels+channel]
		}
		data[frame] = sum / float32(channels)
	}

	if rootNote == 0 {
		rootNote = 60
	}
	return &engine.Sample{
		Data:       data,
		SampleRate: buffer.Format.SampleRate,
		RootNote:   rootNote,
	}, nil
}

// rankManifest is the on-disk description of a rank: one sample file per
// note, with paths relative to the manifest.
type rankManifest struct {
	Samples []rankManifestEntry `json:"samples"`
}

type rankManifestEntry struct {
	Note uint8  `json:"note"`
	File string `json:"file"`
}

// LoadRankFile reads a rank manifest, decodes every referenced WAV, and
// registers the rank in the catalog under the given name. Entries whose
// file fails to decode are skipped; the first such error is returned
// alongside the (still registered) partial rank.
func (s *State) LoadRankFile(name, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var manifest rankManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("parse rank manifest %q: %w", path, err)
	}

	rank := &engine.Rank{Samples: map[uint8]*engine.Sample{}}
	var firstErr error
	base := filepath.Dir(path)

	for _, entry := range manifest.Samples {
		sample, err := decodeSampleFile(filepath.Join(base, entry.File), entry.Note)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rank.Samples[entry.Note] = sample
	}

	s.resources.AddRank(name, rank)
	return firstErr
}

func decodeSampleFile(path string, rootNote uint8) (*engine.Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	return sampleFromBuffer(buffer, rootNote)
}

// LoadSoundFontFile parses an SF2 file and registers it under the given
// name.
func (s *State) LoadSoundFontFile(name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	font, err := meltysynth.NewSoundFont(file)
	if err != nil {
		return fmt.Errorf("parse soundfont %q: %w", path, err)
	}

	s.resources.AddSoundFont(name, font)
	return nil
}
