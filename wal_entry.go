package graphdb

import (
	"github.com/vmihailenco/msgpack/v5"
)

// ---------------------------------------------------------------------------
// WAL Entry Types
//
// Each mutation to the graph (add node, add edge, update, delete, etc.) is
// recorded as a WAL entry after it has been committed to bbolt. The WAL serves
// crash recovery and audit: entries read back from it can be replayed against
// a store through an Applier (DB.Open does not replay them itself).
//
// Entry payloads are encoded with msgpack for compact, fast serialization.
// Every entry includes the allocated IDs so replay reproduces the exact
// same mutation without re-allocating.
// ---------------------------------------------------------------------------

// OpType identifies the type of mutation recorded in a WAL entry.
type OpType uint8

const (
	OpAddNode      OpType = iota + 1 // single node creation
	OpAddNodeBatch                   // batch node creation
	OpUpdateNode                     // merge-update node properties
	OpSetNodeProps                   // full-replace node properties
	OpDeleteNode                     // node + connected edge deletion
	OpAddEdge                        // single edge creation
	OpAddEdgeBatch                   // batch edge creation
	OpDeleteEdge                     // edge deletion
	OpUpdateEdge                     // merge-update edge properties
	OpSetLabel                       // set or clear a node's label
	OpCreateIndex                    // create property index
	OpDropIndex                      // drop property index
)

// String returns a human-readable name for the operation type.
func (op OpType) String() string {
	switch op {
	case OpAddNode:
		return "AddNode"
	case OpAddNodeBatch:
		return "AddNodeBatch"
	case OpUpdateNode:
		return "UpdateNode"
	case OpSetNodeProps:
		return "SetNodeProps"
	case OpDeleteNode:
		return "DeleteNode"
	case OpAddEdge:
		return "AddEdge"
	case OpAddEdgeBatch:
		return "AddEdgeBatch"
	case OpDeleteEdge:
		return "DeleteEdge"
	case OpUpdateEdge:
		return "UpdateEdge"
	case OpSetLabel:
		return "SetLabel"
	case OpCreateIndex:
		return "CreateIndex"
	case OpDropIndex:
		return "DropIndex"
	default:
		return "Unknown"
	}
}

// WALEntry represents a single committed mutation in the write-ahead log.
// The LSN (Log Sequence Number) is a monotonically increasing counter that
// uniquely identifies each entry across the entire WAL history.
type WALEntry struct {
	LSN       uint64 `msgpack:"lsn"`     // monotonically increasing sequence number
	Timestamp int64  `msgpack:"ts"`      // unix nanoseconds when the entry was created
	Op        OpType `msgpack:"op"`      // mutation type
	Payload   []byte `msgpack:"payload"` // msgpack-encoded operation arguments
}

// ---------------------------------------------------------------------------
// Payload structs — one per OpType.
//
// Each struct captures the exact arguments needed to replay the mutation.
// IDs are included so replay reproduces identical state.
// ---------------------------------------------------------------------------

// WALAddNode is the payload for OpAddNode.
type WALAddNode struct {
	ID    NodeID `msgpack:"id"`
	Label string `msgpack:"label"`
	Props Props  `msgpack:"props"`
}

// WALAddNodeBatch is the payload for OpAddNodeBatch.
type WALAddNodeBatch struct {
	Nodes []WALBatchNode `msgpack:"nodes"`
}

// WALBatchNode is a single node within a batch add.
type WALBatchNode struct {
	ID    NodeID `msgpack:"id"`
	Label string `msgpack:"label"`
	Props Props  `msgpack:"props"`
}

// WALUpdateNode is the payload for OpUpdateNode (merge update).
type WALUpdateNode struct {
	ID    NodeID `msgpack:"id"`
	Props Props  `msgpack:"props"` // properties to merge into existing
}

// WALSetNodeProps is the payload for OpSetNodeProps (full replace).
type WALSetNodeProps struct {
	ID    NodeID `msgpack:"id"`
	Props Props  `msgpack:"props"` // complete replacement properties
}

// WALDeleteNode is the payload for OpDeleteNode.
type WALDeleteNode struct {
	ID NodeID `msgpack:"id"`
}

// WALAddEdge is the payload for OpAddEdge.
type WALAddEdge struct {
	ID    EdgeID `msgpack:"id"`
	From  NodeID `msgpack:"from"`
	To    NodeID `msgpack:"to"`
	Label string `msgpack:"label"`
	Props Props  `msgpack:"props"`
}

// WALAddEdgeBatch is the payload for OpAddEdgeBatch.
type WALAddEdgeBatch struct {
	Edges []WALBatchEdge `msgpack:"edges"`
}

// WALBatchEdge is a single edge within a batch add.
type WALBatchEdge struct {
	ID    EdgeID `msgpack:"id"`
	From  NodeID `msgpack:"from"`
	To    NodeID `msgpack:"to"`
	Label string `msgpack:"label"`
	Props Props  `msgpack:"props"`
}

// WALDeleteEdge is the payload for OpDeleteEdge.
type WALDeleteEdge struct {
	ID    EdgeID `msgpack:"id"`
	From  NodeID `msgpack:"from"`
	To    NodeID `msgpack:"to"`
	Label string `msgpack:"label"`
}

// WALUpdateEdge is the payload for OpUpdateEdge.
type WALUpdateEdge struct {
	ID    EdgeID `msgpack:"id"`
	From  NodeID `msgpack:"from"` // needed to locate the edge's shard
	Props Props  `msgpack:"props"`
}

// WALSetLabel is the payload for OpSetLabel.
type WALSetLabel struct {
	ID    NodeID `msgpack:"id"`
	Label string `msgpack:"label"`
}

// WALCreateIndex is the payload for OpCreateIndex.
type WALCreateIndex struct {
	PropName string `msgpack:"prop_name"`
}

// WALDropIndex is the payload for OpDropIndex.
type WALDropIndex struct {
	PropName string `msgpack:"prop_name"`
}

// ---------------------------------------------------------------------------
// Payload encoding/decoding helpers
// ---------------------------------------------------------------------------

// encodeWALPayload serializes a payload struct to msgpack bytes.
func encodeWALPayload(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// decodeWALPayload deserializes msgpack bytes into a payload struct.
func decodeWALPayload(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
