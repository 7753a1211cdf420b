package util

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	node     *snowflake.Node
	nodeErr  error
	nodeOnce sync.Once
)

// NewID returns a random identifier for listings and chat threads.
func NewID() string {
	return uuid.NewString()
}

// InitSequence configures the snowflake node used by NewSequenceID. Only the
// first call has any effect.
func InitSequence(nodeID int64) error {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

// NewSequenceID returns a time-ordered int64, unique across nodes with
// distinct node ids. Falls back to node 1 when InitSequence was never called.
func NewSequenceID() int64 {
	if err := InitSequence(1); err != nil {
		panic(fmt.Sprintf("snowflake node: %v", err))
	}
	return node.Generate().Int64()
}
