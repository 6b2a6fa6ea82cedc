package nodes

import (
	"encoding/json"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// ToggleNode is a stateful UI switch: its boolean state persists with the
// project and can be driven from the graph or from the editor.
type ToggleNode struct {
	engine.BaseNode

	on      bool
	changed bool
}

func newToggleNode(_ engine.SoundConfig) *ToggleNode {
	return &ToggleNode{}
}

func toggleIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.ValueInput("set", graph.None(), 1),
		graph.ValueOutput("state", 1),
	)
}

func (n *ToggleNode) Init(params engine.InitParams) (engine.InitResult, error) {
	if len(params.State.Value) > 0 {
		var on bool
		if err := json.Unmarshal(params.State.Value, &on); err == nil {
			n.on = on
			n.changed = true
		}
	}
	return engine.InitResult{}, nil
}

func (n *ToggleNode) HasState() bool { return true }

func (n *ToggleNode) State() (graph.NodeState, bool) {
	if !n.changed {
		return graph.NodeState{}, false
	}
	n.changed = false
	value, _ := json.Marshal(n.on)
	return graph.NodeState{Value: value}, true
}

func (n *ToggleNode) SetState(state json.RawMessage) {
	var on bool
	if err := json.Unmarshal(state, &on); err == nil && on != n.on {
		n.on = on
		n.changed = true
	}
}

func (n *ToggleNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, _ *midi.Store, _ []engine.Resource) {
	if set, ok := ins.Value(0)[0].AsBool(); ok && set != n.on {
		n.on = set
		n.changed = true
	}
	if n.changed {
		outs.Value(0)[0] = graph.Bool(n.on)
	}
}
