package nodes

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// ExpressionNode evaluates a user expression over its value inputs
// (variables x1…xN) and emits the result. The expression is compiled at
// init; it only re-evaluates on blocks where an input changed.
type ExpressionNode struct {
	engine.BaseNode

	program  *vm.Program
	env      map[string]interface{}
	valuesIn []graph.Primitive
}

func newExpressionNode(_ engine.SoundConfig) *ExpressionNode {
	return &ExpressionNode{env: make(map[string]interface{}, 8)}
}

func expressionIo(_ graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	count := int(propInt(props, "values_in_count", 0))
	if count < 0 {
		count = 0
	}

	rows := []graph.NodeRow{
		graph.PropertyRow("expression", graph.PropertyString, graph.StringProp("")),
		graph.PropertyRow("values_in_count", graph.PropertyInteger, graph.IntegerProp(0)),
		graph.ValueOutput("value", 1),
	}
	for i := 0; i < count; i++ {
		rows = append(rows, graph.ValueInput(fmt.Sprintf("x%d", i+1), graph.Float(0), 1))
	}
	return graph.NodeIo{Rows: rows}
}

func (n *ExpressionNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.program = nil

	count := int(propInt(params.Props, "values_in_count", 0))
	if count < 0 {
		count = 0
	}
	if count != len(n.valuesIn) {
		n.valuesIn = make([]graph.Primitive, count)
		for i := range n.valuesIn {
			n.valuesIn[i] = graph.Float(0)
		}
	}

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

func (n *ExpressionNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, _ *midi.Store, _ []engine.Resource) {
	if n.program == nil {
		return
	}

	changed := false
	for i := 0; i < ins.ValueCount() && i < len(n.valuesIn); i++ {
		incoming := ins.Value(i)[0]
		if !incoming.IsNone() {
			n.valuesIn[i] = incoming
			changed = true
		}
	}
	if !changed {
		return
	}

	for i, value := range n.valuesIn {
		n.env[fmt.Sprintf("x%d", i+1)] = primitiveToAny(value)
	}

	result, err := expr.Run(n.program, n.env)
	if err != nil {
		return
	}
	outs.Value(0)[0] = anyToPrimitive(result)
}

func primitiveToAny(p graph.Primitive) interface{} {
	switch p.Kind {
	case graph.PrimitiveFloat:
		return float64(p.F)
	case graph.PrimitiveInt:
		return int(p.I)
	case graph.PrimitiveBool:
		return p.B
	case graph.PrimitiveString:
		return p.S
	}
	return nil
}

func anyToPrimitive(v interface{}) graph.Primitive {
	switch value := v.(type) {
	case float64:
		return graph.Float(float32(value))
	case float32:
		return graph.Float(value)
	case int:
		return graph.Int(int32(value))
	case int64:
		return graph.Int(int32(value))
	case bool:
		return graph.Bool(value)
	case string:
		return graph.String(value)
	}
	return graph.None()
}
