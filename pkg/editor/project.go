package editor

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
)

// ProjectVersion is the current document version.
const ProjectVersion = 2

// projectDocument is the on-disk project format.
type projectDocument struct {
	Version    int                `json:"version"`
	Manager    json.RawMessage    `json:"graphManager"`
	RootGraph  graph.GraphIndex   `json:"rootGraph"`
	IoNodes    IoNodes            `json:"ioNodes"`
	RouteRules []engine.RouteRule `json:"routeRules,omitempty"`
}

// migration rewrites a document of one version to the next.
type migration func(doc *projectDocument) error

// migrations maps a document version to the migration producing the next
// version.
var migrations = map[int]migration{
	1: migrateV1AddPolyphonyProperty,
}

// migrateV1AddPolyphonyProperty backfills the `polyphony` property on
// polyphonic nodes saved before the property existed.
func migrateV1AddPolyphonyProperty(doc *projectDocument) error {
	var manager map[string]json.RawMessage
	if err := json.Unmarshal(doc.Manager, &manager); err != nil {
		return err
	}

	var graphs []struct {
		Index graph.GraphIndex `json:"index"`
		Graph json.RawMessage  `json:"graph"`
	}
	if err := json.Unmarshal(manager["graphs"], &graphs); err != nil {
		return err
	}

	for gi := range graphs {
		var g map[string]json.RawMessage
		if err := json.Unmarshal(graphs[gi].Graph, &g); err != nil {
			return err
		}
		var nodes []map[string]json.RawMessage
		if err := json.Unmarshal(g["nodes"], &nodes); err != nil {
			return err
		}

		changed := false
		for ni := range nodes {
			var node map[string]json.RawMessage
			if err := json.Unmarshal(nodes[ni]["node"], &node); err != nil {
				return err
			}
			var nodeType string
			_ = json.Unmarshal(node["nodeType"], &nodeType)
			if nodeType != "polyphonic" {
				continue
			}

			var props map[string]json.RawMessage
			if err := json.Unmarshal(node["properties"], &props); err != nil {
				props = map[string]json.RawMessage{}
			}
			if _, ok := props["polyphony"]; ok {
				continue
			}
			props["polyphony"] = json.RawMessage(`{"kind":"integer","int":1}`)

			raw, err := json.Marshal(props)
			if err != nil {
				return err
			}
			node["properties"] = raw
			rawNode, err := json.Marshal(node)
			if err != nil {
				return err
			}
			nodes[ni]["node"] = rawNode
			changed = true
		}

		if !changed {
			continue
		}
		rawNodes, err := json.Marshal(nodes)
		if err != nil {
			return err
		}
		g["nodes"] = rawNodes
		rawGraph, err := json.Marshal(g)
		if err != nil {
			return err
		}
		graphs[gi].Graph = rawGraph
	}

	rawGraphs, err := json.Marshal(graphs)
	if err != nil {
		return err
	}
	manager["graphs"] = rawGraphs
	rawManager, err := json.Marshal(manager)
	if err != nil {
		return err
	}
	doc.Manager = rawManager
	return nil
}

// SaveProject serializes the editor state.
func (s *State) SaveProject() ([]byte, error) {
	rawManager, err := json.Marshal(s.manager)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(projectDocument{
		Version:    ProjectVersion,
		Manager:    rawManager,
		RootGraph:  s.manager.Root(),
		IoNodes:    s.ioNodes,
		RouteRules: s.routeRules,
	}, "", "  ")
}

// SaveProjectFile writes the project to disk.
func (s *State) SaveProjectFile(path string) error {
	data, err := s.SaveProject()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadProject replaces the editor state with a deserialized document,
// migrating older versions forward. History is cleared.
func (s *State) LoadProject(data []byte) error {
	var doc projectDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse project: %w", err)
	}

	if doc.Version > ProjectVersion {
		return fmt.Errorf("project version %d is newer than supported %d", doc.Version, ProjectVersion)
	}
	for doc.Version < ProjectVersion {
		migrate, ok := migrations[doc.Version]
		if !ok {
			return fmt.Errorf("no migration from project version %d", doc.Version)
		}
		if err := migrate(&doc); err != nil {
			return fmt.Errorf("migrate project from v%d: %w", doc.Version, err)
		}
		doc.Version++
	}

	manager := &graph.Manager{}
	if err := json.Unmarshal(doc.Manager, manager); err != nil {
		return fmt.Errorf("parse graph manager: %w", err)
	}
	manager.SetIoProvider(s.registry.IO)

	// recompute every node's rows: the io functions are authoritative,
	// the serialized rows only document what was saved
	for _, graphIndex := range manager.GraphIndexes() {
		g, err := manager.Graph(graphIndex)
		if err != nil {
			return err
		}
		for _, nodeIndex := range g.NodeIndexes() {
			node, err := g.Node(nodeIndex)
			if err != nil {
				return err
			}
			io, err := s.registry.IO(node.NodeType(), graph.IoContext{DefaultChannelCount: g.DefaultChannelCount()}, node.Properties())
			if err != nil {
				return fmt.Errorf("node %v (%s): %w", nodeIndex, node.NodeType(), err)
			}
			node.SetRows(io.Rows)
		}
	}

	s.manager = manager
	s.ioNodes = doc.IoNodes
	s.routeRules = doc.RouteRules
	s.history = nil
	s.placeInHistory = 0
	return nil
}

// LoadProjectFile reads a project from disk.
func (s *State) LoadProjectFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.LoadProject(data)
}
