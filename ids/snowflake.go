// Package ids adapts the snowflake-style generator (help/id_generator.go)
// for connection and task bookkeeping in the RPC core. Msg-id generation
// itself uses github.com/google/uuid; this generator backs the
// monotonically increasing connection ids that key the server's
// live-connection set and appear in connection log lines.
package ids

import (
	"fmt"
	"sync"
	"time"
)

const (
	sequenceBits = 12
	nodeIDBits   = 10
	maxNodeID    = (1 << nodeIDBits) - 1
	maxSequence  = (1 << sequenceBits) - 1

	nodeIDShift    = sequenceBits
	timestampShift = sequenceBits + nodeIDBits

	customEpochMillis = 1577836800000 // 2020-01-01T00:00:00Z
)

// Generator produces monotonically increasing 64-bit ids, unique within
// a single node id, by packing a millisecond timestamp, a node id, and a
// per-millisecond sequence counter into one int64.
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
}

// NewGenerator builds a Generator for the given node id (0-1023),
// panicking outside that range since it can never produce a valid id.
func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > maxNodeID {
		panic(fmt.Sprintf("ids: node id must be between 0 and %d", maxNodeID))
	}
	return &Generator{nodeID: nodeID}
}

// Next returns the next unique id for this generator.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastTime {
		now = g.lastTime // clock moved backwards; don't go non-monotonic
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.lastTime {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	timestamp := now - customEpochMillis
	return (timestamp << timestampShift) | (g.nodeID << nodeIDShift) | g.sequence
}

// NextString returns Next formatted as a base-10 string, convenient for
// use as a connection id in log lines.
func (g *Generator) NextString() string {
	return fmt.Sprintf("%d", g.Next())
}

var defaultGenerator = NewGenerator(1)

// Default returns the package-wide generator used when callers don't
// need per-node isolation (e.g. a single server process's connection ids).
func Default() *Generator { return defaultGenerator }
