package nodes

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// StreamExpressionNode evaluates a user expression over its stream inputs
// once per block, reading each input's first sample (variables x1…xN) and
// filling the output block with the result. Evaluation is block-rate on
// purpose: user expressions are bounded, synchronous, and far too slow to
// run per sample.
type StreamExpressionNode struct {
	engine.BaseNode

	program *vm.Program
	env     map[string]interface{}
}

func newStreamExpressionNode(_ engine.SoundConfig) *StreamExpressionNode {
	return &StreamExpressionNode{env: make(map[string]interface{}, 8)}
}

func streamExpressionIo(_ graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	count := int(propInt(props, "values_in_count", 0))
	if count < 0 {
		count = 0
	}

	rows := []graph.NodeRow{
		graph.PropertyRow("expression", graph.PropertyString, graph.StringProp("")),
		graph.PropertyRow("values_in_count", graph.PropertyInteger, graph.IntegerProp(0)),
		graph.StreamOutput("audio", 1),
	}
	for i := 0; i < count; i++ {
		rows = append(rows, graph.StreamInput(fmt.Sprintf("x%d", i+1), 0, 1))
	}
	return graph.NodeIo{Rows: rows}
}

func (n *StreamExpressionNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.program = nil

	source := propString(params.Props, "expression", "")
	if source == "" {
		return engine.InitResult{}, nil
	}

	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return engine.InitResult{Warnings: []string{"expression compile failed: " + err.Error()}}, nil
	}
	n.program = program
	return engine.InitResult{}, nil
}

func (n *StreamExpressionNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, _ *midi.Store, _ []engine.Resource) {
	out := outs.Stream(0)[0]

	if n.program == nil {
		for i := range out {
			out[i] = 0
		}
		return
	}

	for i := 0; i < ins.StreamCount(); i++ {
		n.env[fmt.Sprintf("x%d", i+1)] = float64(ins.Stream(i)[0][0])
	}

	var sample float32
	if result, err := expr.Run(n.program, n.env); err == nil {
		switch value := result.(type) {
		case float64:
			sample = float32(value)
		case int:
			sample = float32(value)
		}
	}

	for i := range out {
		out[i] = sample
	}
}
