package graphdb

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// AddNodeWithLabel creates a new node with a label and properties.
// Equivalent to AddNode(label, props); kept as a distinct entry point since
// the storage engine contract distinguishes "labeled create" from "create".
func (db *DB) AddNodeWithLabel(label string, props Props) (NodeID, error) {
	return db.AddNode(label, props)
}

// SetLabel replaces the label of an existing node. Pass "" to clear it.
func (db *DB) SetLabel(id NodeID, label string) error {
	if db.isClosed() {
		return fmt.Errorf("graphdb: database is closed")
	}
	if err := db.writeGuard(); err != nil {
		return err
	}

	s := db.shardFor(id)
	var old string
	err := s.writeUpdate(context.Background(), func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes).Get(encodeNodeID(id)) == nil {
			return fmt.Errorf("graphdb: node %d not found", id)
		}

		old = loadLabel(tx, id)
		if old == label {
			return nil
		}

		idxBucket := tx.Bucket(bucketIdxLabel)
		fwdBucket := tx.Bucket(bucketNodeLabel)
		if old != "" {
			if err := idxBucket.Delete(encodeLabelIndexKey(old, id)); err != nil {
				return err
			}
		}
		if label == "" {
			return fwdBucket.Delete(encodeNodeID(id))
		}
		if err := idxBucket.Put(encodeLabelIndexKey(label, id), nil); err != nil {
			return err
		}
		return fwdBucket.Put(encodeNodeID(id), []byte(label))
	})
	if err != nil {
		db.log.Error("failed to set label", "id", id, "label", label, "error", err)
		return err
	}
	if old != label {
		db.walAppend(OpSetLabel, WALSetLabel{ID: id, Label: label})
		db.ncache.Invalidate(id)
		db.log.Debug("label set", "id", id, "label", label)
	}
	return nil
}

// GetLabel returns the label for a node.
func (db *DB) GetLabel(id NodeID) (string, error) {
	if db.isClosed() {
		return "", fmt.Errorf("graphdb: database is closed")
	}

	s := db.shardFor(id)
	var label string
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes).Get(encodeNodeID(id)) == nil {
			return fmt.Errorf("graphdb: node %d not found", id)
		}
		label = loadLabel(tx, id)
		return nil
	})
	return label, err
}

// FindByLabel returns all nodes with the given label.
// Uses the idx_node_label index for O(matches) performance.
func (db *DB) FindByLabel(label string) ([]*Node, error) {
	if db.isClosed() {
		return nil, fmt.Errorf("graphdb: database is closed")
	}

	prefix := encodeLabelIndexPrefix(label)
	var nodes []*Node

	for _, s := range db.shards {
		err := s.db.View(func(tx *bolt.Tx) error {
			idxBucket := tx.Bucket(bucketIdxLabel)
			nodeBucket := tx.Bucket(bucketNodes)

			c := idxBucket.Cursor()
			for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
				nodeIDBytes := k[len(prefix):]
				if len(nodeIDBytes) < 8 {
					continue
				}
				nodeID := decodeNodeID(nodeIDBytes)

				data := nodeBucket.Get(encodeNodeID(nodeID))
				if data == nil {
					continue
				}
				props, err := decodeProps(data)
				if err != nil {
					continue
				}

				nodes = append(nodes, &Node{ID: nodeID, Label: label, Props: props})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return nodes, nil
}

// HasLabel checks if a node carries a specific label.
func (db *DB) HasLabel(id NodeID, label string) (bool, error) {
	got, err := db.GetLabel(id)
	if err != nil {
		return false, err
	}
	return got == label, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// encodeLabelIndexKey creates: "Label\x00" + nodeID(8 bytes big-endian)
func encodeLabelIndexKey(label string, id NodeID) []byte {
	b := []byte(label)
	key := make([]byte, len(b)+1+8)
	copy(key, b)
	key[len(b)] = 0x00
	encodeUint64Into(key[len(b)+1:], uint64(id))
	return key
}

// encodeLabelIndexPrefix creates: "Label\x00"
func encodeLabelIndexPrefix(label string) []byte {
	b := []byte(label)
	prefix := make([]byte, len(b)+1)
	copy(prefix, b)
	prefix[len(b)] = 0x00
	return prefix
}

// encodeUint64Into writes a uint64 big-endian into an existing slice.
func encodeUint64Into(buf []byte, v uint64) {
	buf[0] = byte(v >> 56)
	buf[1] = byte(v >> 48)
	buf[2] = byte(v >> 40)
	buf[3] = byte(v >> 32)
	buf[4] = byte(v >> 24)
	buf[5] = byte(v >> 16)
	buf[6] = byte(v >> 8)
	buf[7] = byte(v)
}

// hasPrefix is a local helper to avoid importing bytes in this file.
func hasPrefix(s, prefix []byte) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if s[i] != b {
			return false
		}
	}
	return true
}

// loadLabel returns a node's label via the forward node_label bucket.
func loadLabel(tx *bolt.Tx, id NodeID) string {
	v := tx.Bucket(bucketNodeLabel).Get(encodeNodeID(id))
	if v == nil {
		return ""
	}
	return string(v)
}
