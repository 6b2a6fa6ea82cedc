package nodes

import (
	"encoding/json"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// MemoryNode captures a snapshot of every stateful node's state and plays
// it back later: a graph-wide preset inside the graph. `save` asks the
// editor for the current snapshot (it arrives a block or two later);
// `load` re-applies the stored snapshot through state updates.
type MemoryNode struct {
	engine.BaseNode

	memory  []engine.StateUpdate
	waiting bool
	changed bool
}

type memoryEntry struct {
	Node  graph.NodeIndex `json:"node"`
	State json.RawMessage `json:"state"`
}

func newMemoryNode(_ engine.SoundConfig) *MemoryNode {
	return &MemoryNode{}
}

func memoryIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.ValueInput("save", graph.None(), 1),
		graph.ValueInput("load", graph.None(), 1),
	)
}

func (n *MemoryNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.restore(params.State.Other)
	return engine.InitResult{}, nil
}

func (n *MemoryNode) HasState() bool { return true }

func (n *MemoryNode) State() (graph.NodeState, bool) {
	if !n.changed {
		return graph.NodeState{}, false
	}
	n.changed = false

	entries := make([]memoryEntry, 0, len(n.memory))
	for _, update := range n.memory {
		entries = append(entries, memoryEntry{Node: update.Node, State: update.State})
	}
	other, _ := json.Marshal(entries)
	return graph.NodeState{Other: other}, true
}

func (n *MemoryNode) SetState(state json.RawMessage) {
	n.restore(state)
}

func (n *MemoryNode) restore(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var entries []memoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return
	}
	n.memory = n.memory[:0]
	for _, entry := range entries {
		n.memory = append(n.memory, engine.StateUpdate{Node: entry.Node, State: entry.State})
	}
}

func (n *MemoryNode) Process(ctx *engine.ProcessContext, ins engine.Ins, _ engine.Outs, _ *midi.Store, _ []engine.Resource) {
	// a requested snapshot arrived: capture it
	if n.waiting && ctx.External.States != nil {
		n.memory = n.memory[:0]
		for index, state := range ctx.External.States {
			n.memory = append(n.memory, engine.StateUpdate{Node: index, State: state.Value})
		}
		n.waiting = false
		n.changed = true
	}

	if ins.Value(0)[0].AsBang() {
		ctx.External.RequestNodeStates()
		n.waiting = true
	}
	if ins.Value(1)[0].AsBang() && len(n.memory) > 0 {
		ctx.External.EnqueueStateUpdates(n.memory)
	}
}
