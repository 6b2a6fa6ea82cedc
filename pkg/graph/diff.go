package graph

import "fmt"

// DiffKind discriminates diff entries.
type DiffKind uint8

const (
	DiffAddNode DiffKind = iota
	DiffRemoveNode
	DiffUpdateNode
	DiffAddEdge
	DiffRemoveEdge
)

// DiffEntry is one reversible mutation. Entries are self-contained: they
// carry enough to reapply the mutation and to roll it back, including the
// generational index, so indices stay stable across undo/redo.
type DiffEntry struct {
	Kind DiffKind

	Node   NodeIndex
	Before *NodeInstance
	After  *NodeInstance

	Edge ConnectionIndex
	From NodeIndex
	To   NodeIndex
	Data ConnectionData
}

// Diff is an ordered list of mutations produced by one graph operation.
type Diff []DiffEntry

// ApplyDiff reapplies a diff that was previously rolled back.
func (g *Graph) ApplyDiff(diff Diff) error {
	for _, entry := range diff {
		if err := g.applyEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// RollbackDiff reverses a diff, newest entry first.
func (g *Graph) RollbackDiff(diff Diff) error {
	for i := len(diff) - 1; i >= 0; i-- {
		if err := g.rollbackEntry(diff[i]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) applyEntry(entry DiffEntry) error {
	switch entry.Kind {
	case DiffAddNode:
		g.placeVertex(entry.Node, entry.After.Clone())
	case DiffRemoveNode:
		slot, err := g.vertex(entry.Node)
		if err != nil {
			return fmt.Errorf("apply diff: %w", err)
		}
		slot.live = false
		slot.data = nil
		slot.incoming = nil
		slot.outgoing = nil
	case DiffUpdateNode:
		slot, err := g.vertex(entry.Node)
		if err != nil {
			return fmt.Errorf("apply diff: %w", err)
		}
		slot.data = entry.After.Clone()
	case DiffAddEdge:
		g.placeEdge(entry.Edge, entry.From, entry.To, entry.Data)
	case DiffRemoveEdge:
		if _, err := g.removeEdge(entry.Edge); err != nil {
			return fmt.Errorf("apply diff: %w", err)
		}
	}
	return nil
}

func (g *Graph) rollbackEntry(entry DiffEntry) error {
	switch entry.Kind {
	case DiffAddNode:
		slot, err := g.vertex(entry.Node)
		if err != nil {
			return fmt.Errorf("rollback diff: %w", err)
		}
		slot.live = false
		slot.data = nil
		slot.incoming = nil
		slot.outgoing = nil
	case DiffRemoveNode:
		g.placeVertex(entry.Node, entry.Before.Clone())
	case DiffUpdateNode:
		slot, err := g.vertex(entry.Node)
		if err != nil {
			return fmt.Errorf("rollback diff: %w", err)
		}
		slot.data = entry.Before.Clone()
	case DiffAddEdge:
		if _, err := g.removeEdge(entry.Edge); err != nil {
			return fmt.Errorf("rollback diff: %w", err)
		}
	case DiffRemoveEdge:
		g.placeEdge(entry.Edge, entry.From, entry.To, entry.Data)
	}
	return nil
}

// placeVertex restores a vertex at a specific generational index.
func (g *Graph) placeVertex(index NodeIndex, inst *NodeInstance) {
	for int(index.Index) >= len(g.vertices) {
		g.vertices = append(g.vertices, vertexSlot{})
	}
	slot := &g.vertices[index.Index]
	slot.generation = index.Generation
	slot.live = true
	slot.data = inst
	slot.incoming = nil
	slot.outgoing = nil
}

// placeEdge restores an edge at a specific generational index.
func (g *Graph) placeEdge(index ConnectionIndex, from, to NodeIndex, data ConnectionData) {
	for int(index.Index) >= len(g.edges) {
		g.edges = append(g.edges, edgeSlot{})
	}
	slot := &g.edges[index.Index]
	slot.generation = index.Generation
	slot.live = true
	slot.from = from
	slot.to = to
	slot.data = data

	g.vertices[from.Index].outgoing = append(g.vertices[from.Index].outgoing, index)
	g.vertices[to.Index].incoming = append(g.vertices[to.Index].incoming, index)
}
