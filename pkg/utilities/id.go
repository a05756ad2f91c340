package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
// Used for opaque public identifiers (orphan rows, integration events).
func NewKSUID() string {
	return ksuid.New().String()
}

// NewEntryID generates a time-ordered snowflake id for entry rows.
// The node id comes from SNOWFLAKE_NODE; node 1 when unset or invalid.
func NewEntryID() int64 {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if s := os.Getenv("SNOWFLAKE_NODE"); s != "" {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				nodeID = v
			}
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			// node id out of range; node 1 is always valid
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	return node.Generate().Int64()
}
