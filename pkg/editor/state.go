// Package editor holds the authoritative patch state: the graph forest,
// the undo/redo history, and the translation from edits to audio-thread
// updates. All operations here run on the editor thread.
package editor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
)

// ActionKind selects which edit an Action performs, and with it which of
// the Action's field groups is used.
type ActionKind uint8

const (
	ActionCreateNode ActionKind = iota
	ActionConnectNodes
	ActionDisconnectNodes
	ActionRemoveNode
	ActionChangeNodeProperties
	ActionChangeNodeUiData
	ActionChangeNodeOverrides
)

// Action describes a single edit to apply.
type Action struct {
	Kind ActionKind

	Graph    graph.GraphIndex
	NodeType string
	UiData   map[string]json.RawMessage

	From       graph.NodeIndex
	FromSocket graph.Socket
	To         graph.NodeIndex
	ToSocket   graph.Socket

	Index     graph.GlobalNodeIndex
	Props     map[string]graph.Property
	Overrides []graph.NodeRow
}

// ActionBundle groups actions applied (and undone) together.
type ActionBundle struct {
	Actions []Action
}

// InvalidationKind classifies what downstream work an edit requires.
type InvalidationKind uint8

const (
	InvalidationNone InvalidationKind = iota
	// InvalidationGraphReindexNeeded means the graph's traverser must be
	// rebuilt.
	InvalidationGraphReindexNeeded
	// InvalidationGraphModified means the graph changed without
	// affecting execution (UI metadata).
	InvalidationGraphModified
	// InvalidationNewDefaults carries changed socket defaults the
	// traverser can absorb without rebuilding.
	InvalidationNewDefaults
	// InvalidationNewNode reports a freshly created node.
	InvalidationNewNode
	// InvalidationNewRouteRules reports a device routing change.
	InvalidationNewRouteRules
)

// SocketValueChange is one changed default on one socket.
type SocketValueChange struct {
	Socket graph.Socket
	Value  graph.SocketDefault
}

// Invalidation is a typed hint returned from Commit.
type Invalidation struct {
	Kind     InvalidationKind
	Graph    graph.GraphIndex
	Node     graph.GlobalNodeIndex
	Defaults []SocketValueChange
	Rules    []engine.RouteRule
}

// IoNodes are the root graph's boundary nodes.
type IoNodes struct {
	Input  graph.NodeIndex `json:"input"`
	Output graph.NodeIndex `json:"output"`
}

// historyAction is one applied action with enough context to reverse it.
type historyAction struct {
	kind ActionKind

	diff graph.ManagerDiff

	index        graph.GlobalNodeIndex
	propsBefore  map[string]graph.Property
	propsAfter   map[string]graph.Property
	uiBefore     map[string]json.RawMessage
	uiAfter      map[string]json.RawMessage
	rowsBefore   []graph.NodeRow
	rowsAfter    []graph.NodeRow
}

type historyBundle struct {
	actions []historyAction
}

// State is the editor's authoritative world.
type State struct {
	manager        *graph.Manager
	ioNodes        IoNodes
	history        []historyBundle
	placeInHistory int
	registry       engine.Registry
	config         engine.SoundConfig
	resources      *engine.Resources
	routeRules     []engine.RouteRule
}

// NewState creates a fresh patch: a root graph holding one midi inputs
// node and one stream outputs node.
func NewState(registry engine.Registry, config engine.SoundConfig, resources *engine.Resources, defaultChannels int) (*State, error) {
	manager := graph.NewManager(registry.IO, defaultChannels)

	root, err := manager.Graph(manager.Root())
	if err != nil {
		return nil, err
	}

	input, _, err := root.AddNode("inputs")
	if err != nil {
		return nil, err
	}
	inputNode, _ := root.Node(input)
	inputNode.SetProperty("type", graph.ChoiceProp("midi"))
	inputNode.SetProperty("socket_list", graph.SocketListProp([]graph.Socket{graph.MidiSocket("midi", 1)}))
	if _, err := root.UpdateNodeRows(input); err != nil {
		return nil, err
	}

	output, _, err := root.AddNode("outputs")
	if err != nil {
		return nil, err
	}
	outputNode, _ := root.Node(output)
	outputNode.SetProperty("type", graph.ChoiceProp("stream"))
	outputNode.SetProperty("socket_list", graph.SocketListProp([]graph.Socket{graph.StreamSocket("audio", defaultChannels)}))
	if _, err := root.UpdateNodeRows(output); err != nil {
		return nil, err
	}

	return &State{
		manager:   manager,
		ioNodes:   IoNodes{Input: input, Output: output},
		registry:  registry,
		config:    config,
		resources: resources,
	}, nil
}

// Manager exposes the graph forest.
func (s *State) Manager() *graph.Manager { return s.manager }

// RootIndex returns the root graph index.
func (s *State) RootIndex() graph.GraphIndex { return s.manager.Root() }

// IoNodes returns the root boundary node indices.
func (s *State) IoNodes() IoNodes { return s.ioNodes }

// RouteRules returns the current device routing table.
func (s *State) RouteRules() []engine.RouteRule { return s.routeRules }

// SetRouteRules replaces the routing table, returning the invalidation to
// forward.
func (s *State) SetRouteRules(rules []engine.RouteRule) Invalidation {
	s.routeRules = rules
	return Invalidation{Kind: InvalidationNewRouteRules, Rules: rules}
}

// Commit applies an action bundle, records it in history, and reports the
// resulting invalidations. A bundle whose actions all fail leaves the
// state untouched and returns the first error.
func (s *State) Commit(bundle ActionBundle, forceAppend bool) ([]Invalidation, error) {
	var applied []historyAction
	var invalidations []Invalidation

	for _, action := range bundle.Actions {
		entry, actionInvalidations, err := s.applyAction(action)
		if err != nil {
			// roll back everything this bundle already did
			for i := len(applied) - 1; i >= 0; i-- {
				if rollbackErr := s.rollbackAction(&applied[i]); rollbackErr != nil {
					return nil, fmt.Errorf("rollback after failed action: %w", rollbackErr)
				}
			}
			return nil, err
		}
		applied = append(applied, entry)
		invalidations = append(invalidations, actionInvalidations...)
	}

	if len(applied) == 0 {
		return nil, nil
	}

	if s.placeInHistory < len(s.history) {
		s.history = s.history[:s.placeInHistory]
	}

	appendToLast := forceAppend ||
		(len(s.history) > 0 && allPropertyRelated(applied) && allPropertyRelated(s.history[len(s.history)-1].actions))

	if appendToLast && len(s.history) > 0 {
		last := &s.history[len(s.history)-1]
		last.actions = append(last.actions, applied...)
	} else {
		s.history = append(s.history, historyBundle{actions: applied})
		s.placeInHistory++
	}

	return invalidations, nil
}

// Undo reverses the most recent bundle.
func (s *State) Undo() ([]Invalidation, error) {
	if s.placeInHistory == 0 {
		return nil, nil
	}

	bundle := &s.history[s.placeInHistory-1]
	var invalidations []Invalidation
	for i := len(bundle.actions) - 1; i >= 0; i-- {
		if err := s.rollbackAction(&bundle.actions[i]); err != nil {
			return nil, err
		}
		invalidations = append(invalidations, s.invalidationsFor(&bundle.actions[i])...)
	}
	s.placeInHistory--
	return invalidations, nil
}

// Redo reapplies the most recently undone bundle.
func (s *State) Redo() ([]Invalidation, error) {
	if s.placeInHistory >= len(s.history) {
		return nil, nil
	}

	bundle := &s.history[s.placeInHistory]
	var invalidations []Invalidation
	for i := range bundle.actions {
		if err := s.reapplyAction(&bundle.actions[i]); err != nil {
			return nil, err
		}
		invalidations = append(invalidations, s.invalidationsFor(&bundle.actions[i])...)
	}
	s.placeInHistory++
	return invalidations, nil
}

func allPropertyRelated(actions []historyAction) bool {
	for _, action := range actions {
		switch action.kind {
		case ActionChangeNodeProperties, ActionChangeNodeUiData, ActionChangeNodeOverrides:
		default:
			return false
		}
	}
	return true
}

func (s *State) applyAction(action Action) (historyAction, []Invalidation, error) {
	switch action.Kind {
	case ActionCreateNode:
		index, diff, err := s.manager.CreateNode(action.NodeType, action.Graph, action.UiData)
		if err != nil {
			return historyAction{}, nil, err
		}
		return historyAction{kind: action.Kind, diff: diff, index: index}, []Invalidation{
			{Kind: InvalidationNewNode, Node: index},
			{Kind: InvalidationGraphReindexNeeded, Graph: action.Graph},
		}, nil

	case ActionConnectNodes:
		diff, err := s.manager.ConnectNodes(action.Graph, action.From, action.FromSocket, action.To, action.ToSocket)
		if err != nil {
			return historyAction{}, nil, err
		}
		return historyAction{kind: action.Kind, diff: diff}, []Invalidation{
			{Kind: InvalidationGraphReindexNeeded, Graph: action.Graph},
		}, nil

	case ActionDisconnectNodes:
		diff, err := s.manager.DisconnectNodes(action.Graph, action.From, action.FromSocket, action.To, action.ToSocket)
		if err != nil {
			return historyAction{}, nil, err
		}
		return historyAction{kind: action.Kind, diff: diff}, []Invalidation{
			{Kind: InvalidationGraphReindexNeeded, Graph: action.Graph},
		}, nil

	case ActionRemoveNode:
		if action.Index.Graph == s.manager.Root() &&
			(action.Index.Node == s.ioNodes.Input || action.Index.Node == s.ioNodes.Output) {
			return historyAction{}, nil, fmt.Errorf("cannot remove root boundary node: %w", graph.ErrInternalGraph)
		}
		diff, err := s.manager.RemoveNode(action.Index)
		if err != nil {
			return historyAction{}, nil, err
		}
		return historyAction{kind: action.Kind, diff: diff}, []Invalidation{
			{Kind: InvalidationGraphReindexNeeded, Graph: action.Index.Graph},
		}, nil

	case ActionChangeNodeProperties:
		g, err := s.manager.Graph(action.Index.Graph)
		if err != nil {
			return historyAction{}, nil, err
		}
		node, err := g.Node(action.Index.Node)
		if err != nil {
			return historyAction{}, nil, err
		}

		before := node.SetProperties(action.Props)
		rowDiff, err := g.UpdateNodeRows(action.Index.Node)
		if err != nil {
			node.SetProperties(before)
			return historyAction{}, nil, err
		}

		return historyAction{
			kind:        action.Kind,
			index:       action.Index,
			propsBefore: before,
			propsAfter:  action.Props,
			diff:        graph.ManagerDiff{{Graph: action.Index.Graph, GraphDiff: rowDiff}},
		}, []Invalidation{{Kind: InvalidationGraphReindexNeeded, Graph: action.Index.Graph}}, nil

	case ActionChangeNodeUiData:
		g, err := s.manager.Graph(action.Index.Graph)
		if err != nil {
			return historyAction{}, nil, err
		}
		node, err := g.Node(action.Index.Node)
		if err != nil {
			return historyAction{}, nil, err
		}
		before := node.SetUIData(action.UiData)
		return historyAction{
			kind:     action.Kind,
			index:    action.Index,
			uiBefore: before,
			uiAfter:  action.UiData,
		}, []Invalidation{{Kind: InvalidationGraphModified, Graph: action.Index.Graph}}, nil

	case ActionChangeNodeOverrides:
		g, err := s.manager.Graph(action.Index.Graph)
		if err != nil {
			return historyAction{}, nil, err
		}
		node, err := g.Node(action.Index.Node)
		if err != nil {
			return historyAction{}, nil, err
		}
		before := node.SetOverrides(action.Overrides)

		return historyAction{
			kind:       action.Kind,
			index:      action.Index,
			rowsBefore: before,
			rowsAfter:  action.Overrides,
		}, []Invalidation{
			{Kind: InvalidationNewDefaults, Node: action.Index, Defaults: changedDefaults(before, action.Overrides)},
			{Kind: InvalidationGraphModified, Graph: action.Index.Graph},
		}, nil
	}

	return historyAction{}, nil, fmt.Errorf("unknown action kind %d: %w", action.Kind, graph.ErrInternalGraph)
}

// changedDefaults lists the overrides present in `after` but not `before`.
func changedDefaults(before, after []graph.NodeRow) []SocketValueChange {
	var out []SocketValueChange
	for _, row := range after {
		socket, dir, ok := row.SocketAndDirection()
		if !ok || dir != graph.DirectionInput {
			continue
		}
		matched := false
		for _, old := range before {
			if old.Equal(row) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, SocketValueChange{Socket: socket, Value: row.Default})
		}
	}
	return out
}

func (s *State) rollbackAction(action *historyAction) error {
	switch action.kind {
	case ActionChangeNodeProperties:
		if err := s.manager.RollbackDiff(action.diff); err != nil {
			return err
		}
		g, err := s.manager.Graph(action.index.Graph)
		if err != nil {
			return err
		}
		node, err := g.Node(action.index.Node)
		if err != nil {
			return err
		}
		node.SetProperties(action.propsBefore)
		_, err = g.UpdateNodeRows(action.index.Node)
		return err

	case ActionChangeNodeUiData:
		g, err := s.manager.Graph(action.index.Graph)
		if err != nil {
			return err
		}
		node, err := g.Node(action.index.Node)
		if err != nil {
			return err
		}
		node.SetUIData(action.uiBefore)
		return nil

	case ActionChangeNodeOverrides:
		g, err := s.manager.Graph(action.index.Graph)
		if err != nil {
			return err
		}
		node, err := g.Node(action.index.Node)
		if err != nil {
			return err
		}
		node.SetOverrides(action.rowsBefore)
		return nil
	}

	return s.manager.RollbackDiff(action.diff)
}

func (s *State) reapplyAction(action *historyAction) error {
	switch action.kind {
	case ActionChangeNodeProperties:
		g, err := s.manager.Graph(action.index.Graph)
		if err != nil {
			return err
		}
		node, err := g.Node(action.index.Node)
		if err != nil {
			return err
		}
		node.SetProperties(action.propsAfter)
		_, err = g.UpdateNodeRows(action.index.Node)
		return err

	case ActionChangeNodeUiData:
		g, err := s.manager.Graph(action.index.Graph)
		if err != nil {
			return err
		}
		node, err := g.Node(action.index.Node)
		if err != nil {
			return err
		}
		node.SetUIData(action.uiAfter)
		return nil

	case ActionChangeNodeOverrides:
		g, err := s.manager.Graph(action.index.Graph)
		if err != nil {
			return err
		}
		node, err := g.Node(action.index.Node)
		if err != nil {
			return err
		}
		node.SetOverrides(action.rowsAfter)
		return nil
	}

	return s.manager.ApplyDiff(action.diff)
}

func (s *State) invalidationsFor(action *historyAction) []Invalidation {
	switch action.kind {
	case ActionChangeNodeUiData:
		return []Invalidation{{Kind: InvalidationGraphModified, Graph: action.index.Graph}}
	case ActionChangeNodeOverrides:
		return []Invalidation{
			{Kind: InvalidationNewDefaults, Node: action.index, Defaults: changedDefaults(nil, action.rowsAfter)},
			{Kind: InvalidationGraphModified, Graph: action.index.Graph},
		}
	}
	// structural edits and property changes require a reindex; the graph
	// index is recorded in the diff
	if len(action.diff) > 0 {
		return []Invalidation{{Kind: InvalidationGraphReindexNeeded, Graph: action.diff[0].Graph}}
	}
	if action.kind == ActionChangeNodeProperties {
		return []Invalidation{{Kind: InvalidationGraphReindexNeeded, Graph: action.index.Graph}}
	}
	return nil
}

// BuildTraverser compiles the root graph for the audio thread.
func (s *State) BuildTraverser(startTime time.Duration) (*engine.Traverser, []engine.Warning, error) {
	return engine.NewTraverser(s.manager, s.manager.Root(), s.config, s.registry, s.resources, startTime)
}

// UpdatesFor translates invalidations into audio-thread updates. A root
// reindex becomes a full traverser swap; changed defaults become light
// injections; everything else stays editor-side.
func (s *State) UpdatesFor(invalidations []Invalidation, startTime time.Duration) ([]engine.Update, []engine.Warning, error) {
	rootReindex := false
	var defaults []engine.DefaultChange
	var updates []engine.Update

	for _, invalidation := range invalidations {
		switch invalidation.Kind {
		case InvalidationGraphReindexNeeded:
			if invalidation.Graph == s.manager.Root() {
				rootReindex = true
			}
		case InvalidationNewDefaults:
			if invalidation.Node.Graph != s.manager.Root() {
				continue
			}
			for _, change := range invalidation.Defaults {
				if change.Value.Type != graph.SocketValue {
					continue
				}
				defaults = append(defaults, engine.DefaultChange{
					Node:   invalidation.Node.Node,
					Socket: change.Socket,
					Value:  change.Value.Primitive,
				})
			}
		case InvalidationNewRouteRules:
			updates = append(updates, engine.NewRouteRulesUpdate{Rules: invalidation.Rules})
		}
	}

	var warnings []engine.Warning
	if rootReindex {
		traverser, buildWarnings, err := s.BuildTraverser(startTime)
		if err != nil {
			return nil, nil, err
		}
		warnings = buildWarnings
		updates = append(updates, engine.NewTraverserUpdate{Traverser: traverser})
	}
	if len(defaults) > 0 {
		updates = append(updates, engine.NewDefaultsUpdate{Defaults: defaults})
	}
	return updates, warnings, nil
}

// NodeStates snapshots every node with a non-empty persistent state, for
// graph-state requests from the audio thread.
func (s *State) NodeStates() map[graph.NodeIndex]graph.NodeState {
	root, err := s.manager.Graph(s.manager.Root())
	if err != nil {
		return nil
	}
	out := map[graph.NodeIndex]graph.NodeState{}
	for _, index := range root.NodeIndexes() {
		node, err := root.Node(index)
		if err != nil {
			continue
		}
		if !node.State().IsZero() {
			out[index] = node.State()
		}
	}
	return out
}

// ApplyNodeStates records state reported by the audio thread back into
// the instances, so saves capture live state.
func (s *State) ApplyNodeStates(changes []engine.NodeStateChange) {
	root, err := s.manager.Graph(s.manager.Root())
	if err != nil {
		return
	}
	for _, change := range changes {
		if node, err := root.Node(change.Node); err == nil {
			node.SetState(change.State)
		}
	}
}
