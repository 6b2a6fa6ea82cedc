package graph

import "errors"

// Typed errors for editor-side operations. These are recorded by the
// history layer so failing actions can be reported and reverted; nothing
// in this package panics on user input.
var (
	ErrNodeDoesNotExist     = errors.New("node does not exist")
	ErrGraphDoesNotExist    = errors.New("graph does not exist")
	ErrSocketDoesNotExist   = errors.New("socket does not exist")
	ErrIncompatibleSockets  = errors.New("incompatible socket types")
	ErrAlreadyConnected     = errors.New("sockets already connected")
	ErrInputSocketOccupied  = errors.New("input socket already has a connection")
	ErrNodesNotConnected    = errors.New("nodes are not connected")
	ErrNodeTypeDoesNotExist = errors.New("node type does not exist")
	ErrInternalGraph        = errors.New("internal graph error")
)
