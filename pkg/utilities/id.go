package utilities

import (
	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// IDGenerator produces snowflake ids for one node. If the node cannot be
// initialized it falls back to KSUID strings so an id is always returned.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator builds a generator for nodeID (0..1023).
func NewIDGenerator(nodeID int64) *IDGenerator {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return &IDGenerator{}
	}
	return &IDGenerator{node: node}
}

// Next returns a new id string.
func (g *IDGenerator) Next() string {
	if g == nil || g.node == nil {
		return NewKSUID()
	}
	return g.node.Generate().String()
}
