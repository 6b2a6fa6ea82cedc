package nodes

import (
	"fmt"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// MixerNode sums N stream inputs. The input count is a property so the
// row list grows and shrinks with it.
type MixerNode struct {
	engine.BaseNode
}

func newMixerNode(_ engine.SoundConfig) *MixerNode {
	return &MixerNode{}
}

func mixerIo(ctx graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	channels := defaultChannels(props, ctx.DefaultChannelCount)
	inputs := int(propInt(props, "inputs", 2))
	if inputs < 1 {
		inputs = 1
	}

	rows := []graph.NodeRow{
		withChannels(ctx.DefaultChannelCount),
		graph.PropertyRow("inputs", graph.PropertyInteger, graph.IntegerProp(2)),
	}
	for i := 0; i < inputs; i++ {
		rows = append(rows, graph.StreamInput(fmt.Sprintf("input %d", i+1), 0, channels))
	}
	rows = append(rows, graph.StreamOutput("audio", channels))
	return graph.NodeIo{Rows: rows}
}

func (n *MixerNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, _ *midi.Store, _ []engine.Resource) {
	out := outs.Stream(0)
	for c := range out {
		for i := range out[c] {
			out[c][i] = 0
		}
	}

	for socket := 0; socket < ins.StreamCount(); socket++ {
		in := ins.Stream(socket)
		for c := range out {
			if c >= len(in) {
				continue
			}
			for i := range out[c] {
				out[c][i] += in[c][i]
			}
		}
	}
}
