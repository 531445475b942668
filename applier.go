package graphdb

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// ---------------------------------------------------------------------------
// WAL Applier — replays committed mutations during crash recovery.
//
// The applier is driven by the caller: each Apply(entry) call replays one
// committed WAL entry against the bbolt shards. DB.Open does not replay the
// WAL itself. Replay uses the exact IDs recorded in each
// entry, so it never re-allocates and produces identical state.
//
// Thread safety:
//   - The Applier itself is NOT safe for concurrent Apply() calls.
//   - It is designed to be driven by a single goroutine during recovery.
// ---------------------------------------------------------------------------

// Applier replays WAL entries against a database.
type Applier struct {
	db         *DB
	appliedLSN atomic.Uint64 // last successfully applied LSN
}

// NewApplier creates an Applier for the given database.
func NewApplier(db *DB) *Applier {
	return &Applier{db: db}
}

// AppliedLSN returns the last successfully applied LSN.
func (a *Applier) AppliedLSN() uint64 {
	return a.appliedLSN.Load()
}

// ResetLSN resets the applied LSN back to zero.
func (a *Applier) ResetLSN() {
	a.appliedLSN.Store(0)
}

// Apply replays a single WAL entry. Entries must be applied in LSN order.
// Entries at or below the already-applied LSN are skipped, so replaying an
// overlapping tail of the log after a partial recovery is safe.
func (a *Applier) Apply(entry *WALEntry) error {
	if entry.LSN <= a.appliedLSN.Load() {
		return nil
	}

	var err error
	switch entry.Op {
	case OpAddNode:
		err = a.applyAddNode(entry.Payload)
	case OpAddNodeBatch:
		err = a.applyAddNodeBatch(entry.Payload)
	case OpUpdateNode:
		err = a.applyUpdateNode(entry.Payload)
	case OpSetNodeProps:
		err = a.applySetNodeProps(entry.Payload)
	case OpDeleteNode:
		err = a.applyDeleteNode(entry.Payload)
	case OpAddEdge:
		err = a.applyAddEdge(entry.Payload)
	case OpAddEdgeBatch:
		err = a.applyAddEdgeBatch(entry.Payload)
	case OpDeleteEdge:
		err = a.applyDeleteEdge(entry.Payload)
	case OpUpdateEdge:
		err = a.applyUpdateEdge(entry.Payload)
	case OpSetLabel:
		err = a.applySetLabel(entry.Payload)
	case OpCreateIndex:
		err = a.applyCreateIndex(entry.Payload)
	case OpDropIndex:
		err = a.applyDropIndex(entry.Payload)
	default:
		err = fmt.Errorf("applier: unknown op type %d", entry.Op)
	}

	if err != nil {
		return fmt.Errorf("applier: failed to apply LSN %d (%s): %w", entry.LSN, entry.Op, err)
	}

	a.appliedLSN.Store(entry.LSN)
	return nil
}

// ---------------------------------------------------------------------------
// Per-operation apply methods
//
// These write directly to bbolt using the exact IDs recorded in the WAL.
// No ID allocation happens here.
// ---------------------------------------------------------------------------

func (a *Applier) applyAddNode(payload []byte) error {
	var p WALAddNode
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	target := a.db.shardFor(p.ID)
	data, err := encodeProps(p.Props)
	if err != nil {
		return err
	}

	err = target.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketNodes).Put(encodeNodeID(p.ID), data); err != nil {
			return err
		}
		if p.Label != "" {
			if err := tx.Bucket(bucketIdxLabel).Put(encodeLabelIndexKey(p.Label, p.ID), nil); err != nil {
				return err
			}
			if err := tx.Bucket(bucketNodeLabel).Put(encodeNodeID(p.ID), []byte(p.Label)); err != nil {
				return err
			}
		}
		return a.db.indexNodeProps(tx, p.ID, p.Props)
	})
	if err == nil {
		target.nodeCount.Add(1)
	}
	return err
}

func (a *Applier) applyAddNodeBatch(payload []byte) error {
	var p WALAddNodeBatch
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	for _, n := range p.Nodes {
		entryPayload, err := encodeWALPayload(WALAddNode{ID: n.ID, Label: n.Label, Props: n.Props})
		if err != nil {
			return err
		}
		if err := a.applyAddNode(entryPayload); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) applyUpdateNode(payload []byte) error {
	var p WALUpdateNode
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	s := a.db.shardFor(p.ID)
	return s.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		key := encodeNodeID(p.ID)
		existing := b.Get(key)
		if existing == nil {
			return fmt.Errorf("applier: node %d not found", p.ID)
		}

		oldProps, err := decodeProps(existing)
		if err != nil {
			return err
		}
		if err := a.db.unindexNodeProps(tx, p.ID, oldProps); err != nil {
			return err
		}

		for k, v := range p.Props {
			oldProps[k] = v
		}

		data, err := encodeProps(oldProps)
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		return a.db.indexNodeProps(tx, p.ID, oldProps)
	})
}

func (a *Applier) applySetNodeProps(payload []byte) error {
	var p WALSetNodeProps
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	s := a.db.shardFor(p.ID)
	return s.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		key := encodeNodeID(p.ID)
		existing := b.Get(key)
		if existing != nil {
			if oldProps, err := decodeProps(existing); err == nil {
				_ = a.db.unindexNodeProps(tx, p.ID, oldProps)
			}
		}

		data, err := encodeProps(p.Props)
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		return a.db.indexNodeProps(tx, p.ID, p.Props)
	})
}

func (a *Applier) applyDeleteNode(payload []byte) error {
	var p WALDeleteNode
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	s := a.db.shardFor(p.ID)
	deleted := false
	err := s.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		key := encodeNodeID(p.ID)

		existing := b.Get(key)
		if existing == nil {
			return nil // already deleted — idempotent
		}

		if props, err := decodeProps(existing); err == nil {
			_ = a.db.unindexNodeProps(tx, p.ID, props)
		}

		if label := loadLabel(tx, p.ID); label != "" {
			_ = tx.Bucket(bucketIdxLabel).Delete(encodeLabelIndexKey(label, p.ID))
			_ = tx.Bucket(bucketNodeLabel).Delete(encodeNodeID(p.ID))
		}

		deleted = true
		return b.Delete(key)
	})
	if err == nil && deleted {
		s.nodeCount.Add(^uint64(0))
	}
	return err
}

func (a *Applier) applyAddEdge(payload []byte) error {
	var p WALAddEdge
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	edge := &Edge{ID: p.ID, From: p.From, To: p.To, Label: p.Label, Props: p.Props}
	srcShard := a.db.shardForEdge(p.From)
	dstShard := a.db.shardFor(p.To)

	if srcShard == dstShard {
		err := srcShard.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
			edgeData, err := encodeEdge(edge)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketEdges).Put(encodeEdgeID(p.ID), edgeData); err != nil {
				return err
			}
			if err := tx.Bucket(bucketAdjOut).Put(
				encodeAdjKey(p.From, p.ID), encodeAdjValue(p.To, p.Label),
			); err != nil {
				return err
			}
			if err := tx.Bucket(bucketAdjIn).Put(
				encodeAdjKey(p.To, p.ID), encodeAdjValue(p.From, p.Label),
			); err != nil {
				return err
			}
			return tx.Bucket(bucketIdxEdgeTyp).Put(
				encodeIndexKey(p.Label, uint64(p.ID)), nil,
			)
		})
		if err == nil {
			srcShard.edgeCount.Add(1)
		}
		return err
	}

	// Cross-shard: two transactions.
	err := srcShard.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		edgeData, err := encodeEdge(edge)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketEdges).Put(encodeEdgeID(p.ID), edgeData); err != nil {
			return err
		}
		if err := tx.Bucket(bucketAdjOut).Put(
			encodeAdjKey(p.From, p.ID), encodeAdjValue(p.To, p.Label),
		); err != nil {
			return err
		}
		return tx.Bucket(bucketIdxEdgeTyp).Put(
			encodeIndexKey(p.Label, uint64(p.ID)), nil,
		)
	})
	if err != nil {
		return err
	}
	srcShard.edgeCount.Add(1)

	return dstShard.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAdjIn).Put(
			encodeAdjKey(p.To, p.ID), encodeAdjValue(p.From, p.Label),
		)
	})
}

func (a *Applier) applyAddEdgeBatch(payload []byte) error {
	var p WALAddEdgeBatch
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	for _, e := range p.Edges {
		entryPayload, err := encodeWALPayload(WALAddEdge{
			ID: e.ID, From: e.From, To: e.To, Label: e.Label, Props: e.Props,
		})
		if err != nil {
			return err
		}
		if err := a.applyAddEdge(entryPayload); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) applyDeleteEdge(payload []byte) error {
	var p WALDeleteEdge
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	srcShard := a.db.shardForEdge(p.From)
	dstShard := a.db.shardFor(p.To)

	err := srcShard.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		_ = tx.Bucket(bucketEdges).Delete(encodeEdgeID(p.ID))
		_ = tx.Bucket(bucketAdjOut).Delete(encodeAdjKey(p.From, p.ID))
		_ = tx.Bucket(bucketIdxEdgeTyp).Delete(encodeIndexKey(p.Label, uint64(p.ID)))
		return nil
	})
	if err != nil {
		return err
	}
	srcShard.edgeCount.Add(^uint64(0))

	return dstShard.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAdjIn).Delete(encodeAdjKey(p.To, p.ID))
	})
}

func (a *Applier) applyUpdateEdge(payload []byte) error {
	var p WALUpdateEdge
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	s := a.db.shardForEdge(p.From)
	return s.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEdges).Get(encodeEdgeID(p.ID))
		if data == nil {
			return fmt.Errorf("applier: edge %d not found", p.ID)
		}

		edge, err := decodeEdge(data)
		if err != nil {
			return err
		}
		if edge.Props == nil {
			edge.Props = make(Props)
		}
		for k, v := range p.Props {
			edge.Props[k] = v
		}

		newData, err := encodeEdge(edge)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEdges).Put(encodeEdgeID(p.ID), newData)
	})
}

func (a *Applier) applySetLabel(payload []byte) error {
	var p WALSetLabel
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	s := a.db.shardFor(p.ID)
	return s.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes).Get(encodeNodeID(p.ID)) == nil {
			return nil // node already gone — idempotent
		}

		old := loadLabel(tx, p.ID)
		if old == p.Label {
			return nil
		}

		idxBucket := tx.Bucket(bucketIdxLabel)
		fwdBucket := tx.Bucket(bucketNodeLabel)
		if old != "" {
			if err := idxBucket.Delete(encodeLabelIndexKey(old, p.ID)); err != nil {
				return err
			}
		}
		if p.Label == "" {
			return fwdBucket.Delete(encodeNodeID(p.ID))
		}
		if err := idxBucket.Put(encodeLabelIndexKey(p.Label, p.ID), nil); err != nil {
			return err
		}
		return fwdBucket.Put(encodeNodeID(p.ID), []byte(p.Label))
	})
}

func (a *Applier) applyCreateIndex(payload []byte) error {
	var p WALCreateIndex
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	for _, s := range a.db.shards {
		err := s.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
			idxBucket := tx.Bucket(bucketIdxProp)
			nodesBucket := tx.Bucket(bucketNodes)
			return nodesBucket.ForEach(func(k, v []byte) error {
				props, err := decodeProps(v)
				if err != nil {
					return nil
				}
				val, ok := props[p.PropName]
				if !ok {
					return nil
				}
				idxKeyStr := fmt.Sprintf("%s:%v", p.PropName, val)
				nodeID := decodeNodeID(k)
				idxKey := encodeIndexKey(idxKeyStr, uint64(nodeID))
				return idxBucket.Put(idxKey, nil)
			})
		})
		if err != nil {
			return err
		}
	}
	a.db.indexedProps.Store(p.PropName, true)
	return nil
}

func (a *Applier) applyDropIndex(payload []byte) error {
	var p WALDropIndex
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return err
	}

	prefix := []byte(p.PropName + ":")
	for _, s := range a.db.shards {
		err := s.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
			idxBucket := tx.Bucket(bucketIdxProp)
			c := idxBucket.Cursor()
			var toDelete [][]byte
			for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
				keyCopy := make([]byte, len(k))
				copy(keyCopy, k)
				toDelete = append(toDelete, keyCopy)
			}
			for _, k := range toDelete {
				if err := idxBucket.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	a.db.indexedProps.Delete(p.PropName)
	return nil
}
