package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// FunctionNode runs a nested graph inline: its stream input feeds the
// child graph's inputs node, and the child's outputs node feeds its
// stream output. One child traverser, stepped once per block.
type FunctionNode struct {
	engine.BaseNode

	childRef  *graph.ChildGraphRef
	traverser *engine.Traverser
}

func newFunctionNode(_ engine.SoundConfig) *FunctionNode {
	return &FunctionNode{}
}

func functionIo(ctx graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	channels := defaultChannels(props, ctx.DefaultChannelCount)
	return graph.NodeIo{
		Rows: []graph.NodeRow{
			withChannels(ctx.DefaultChannelCount),
			graph.StreamInput("audio", 0, channels),
			graph.InnerGraphRow(),
			graph.StreamOutput("audio", channels),
		},
		ChildGraphIo: []graph.ChildSocket{
			{Socket: graph.StreamSocket("audio", channels), Direction: graph.DirectionInput},
			{Socket: graph.StreamSocket("audio", channels), Direction: graph.DirectionOutput},
		},
	}
}

func (n *FunctionNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.childRef = params.ChildGraph
	n.traverser = nil

	if n.childRef == nil || params.BuildTraverser == nil {
		return engine.InitResult{Warnings: []string{"function node has no child graph"}}, nil
	}

	traverser, warnings, err := params.BuildTraverser(n.childRef.Graph, params.CurrentTime)
	if err != nil {
		return engine.InitResult{}, err
	}
	n.traverser = traverser

	messages := make([]string, 0, len(warnings))
	for _, w := range warnings {
		messages = append(messages, w.Message)
	}
	return engine.InitResult{Warnings: messages}, nil
}

func (n *FunctionNode) Process(ctx *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, _ []engine.Resource) {
	out := outs.Stream(0)

	if n.traverser == nil {
		for c := range out {
			for i := range out[c] {
				out[c][i] = 0
			}
		}
		return
	}

	// stage our input into the child's boundary
	if runtime, ok := n.traverser.Runtime(n.childRef.InputNode); ok {
		if boundary, ok := runtime.(engine.BoundaryInput); ok {
			staging := boundary.StreamScratch()
			in := ins.Stream(0)
			if len(staging) > 0 {
				for c := range staging[0] {
					if c < len(in) {
						copy(staging[0][c], in[c])
					}
				}
			}
		}
	}

	n.traverser.Step(ctx.Resources, nil, nil, store)

	if runtime, ok := n.traverser.Runtime(n.childRef.OutputNode); ok {
		if boundary, ok := runtime.(engine.BoundaryOutput); ok {
			streams := boundary.OutputStreams()
			if len(streams) > 0 {
				for c := range out {
					if c < len(streams[0]) {
						copy(out[c], streams[0][c])
					}
				}
				return
			}
		}
	}

	for c := range out {
		for i := range out[c] {
			out[c][i] = 0
		}
	}
}

func (n *FunctionNode) Reset() {
	if n.traverser != nil {
		n.traverser.Reset()
	}
}
