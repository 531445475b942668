package graphdb

import (
	"io"
	"testing"
)

// TestApplier_ReplayWAL simulates a crash by writing to one database, then
// replaying its WAL against a fresh database and verifying identical state.
func TestApplier_ReplayWAL(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	src, err := Open(srcDir, Options{
		ShardCount: 1,
		EnableWAL:  true,
		WALNoSync:  true,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Perform mutations on the source database.
	id1, _ := src.AddNode("Node", Props{"name": "Alice", "age": 30})
	id2, _ := src.AddNode("Person", Props{"name": "Bob"})
	src.AddEdge(id1, id2, "KNOWS", Props{"since": "2024"})
	src.UpdateNode(id1, Props{"city": "Istanbul"})
	src.SetLabel(id2, "Developer")

	// Read all WAL entries from the source.
	reader, err := src.wal.NewReader(1)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	var entries []*WALEntry
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, entry)
	}

	// Replay entries against a fresh database.
	dst, err := Open(dstDir, Options{ShardCount: 1})
	if err != nil {
		t.Fatal(err)
	}

	applier := NewApplier(dst)
	for _, entry := range entries {
		if err := applier.Apply(entry); err != nil {
			t.Fatalf("apply LSN %d failed: %v", entry.LSN, err)
		}
	}

	// Verify replayed state matches.
	node1, err := dst.GetNode(id1)
	if err != nil {
		t.Fatalf("GetNode(%d): %v", id1, err)
	}
	if node1.Props["name"] != "Alice" {
		t.Errorf("expected name=Alice, got %v", node1.Props["name"])
	}
	if node1.Props["city"] != "Istanbul" {
		t.Errorf("expected city=Istanbul, got %v", node1.Props["city"])
	}

	node2, err := dst.GetNode(id2)
	if err != nil {
		t.Fatalf("GetNode(%d): %v", id2, err)
	}
	if node2.Props["name"] != "Bob" {
		t.Errorf("expected name=Bob, got %v", node2.Props["name"])
	}
	label, _ := dst.GetLabel(id2)
	if label != "Developer" {
		t.Errorf("expected label Developer, got %s", label)
	}

	edges, _ := dst.OutEdges(id1)
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge from id1, got %d", len(edges))
	}
	if edges[0].Label != "KNOWS" {
		t.Errorf("expected edge label KNOWS, got %s", edges[0].Label)
	}

	if src.NodeCount() != dst.NodeCount() {
		t.Errorf("node count mismatch: src=%d dst=%d", src.NodeCount(), dst.NodeCount())
	}

	src.Close()
	dst.Close()
}

// TestApplier_DeleteOperations tests that delete operations replay correctly.
func TestApplier_DeleteOperations(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	src, _ := Open(srcDir, Options{ShardCount: 1, EnableWAL: true, WALNoSync: true})

	id1, _ := src.AddNode("Node", Props{"name": "X"})
	id2, _ := src.AddNode("Node", Props{"name": "Y"})
	edgeID, _ := src.AddEdge(id1, id2, "LINK", nil)
	src.DeleteEdge(edgeID)
	src.DeleteNode(id1)

	reader, _ := src.wal.NewReader(1)
	var entries []*WALEntry
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, entry)
	}
	reader.Close()

	dst, _ := Open(dstDir, Options{ShardCount: 1})
	applier := NewApplier(dst)
	for _, entry := range entries {
		if err := applier.Apply(entry); err != nil {
			t.Fatalf("apply LSN %d failed: %v", entry.LSN, err)
		}
	}

	if _, err := dst.GetNode(id1); err == nil {
		t.Fatal("expected node X to be deleted after replay")
	}
	if _, err := dst.GetNode(id2); err != nil {
		t.Fatalf("expected node Y to exist after replay: %v", err)
	}
	if _, err := dst.GetEdge(edgeID); err == nil {
		t.Fatal("expected edge to be deleted after replay")
	}

	src.Close()
	dst.Close()
}

// TestApplier_Idempotent verifies that applying the same entry twice is safe.
func TestApplier_Idempotent(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	src, _ := Open(srcDir, Options{ShardCount: 1, EnableWAL: true, WALNoSync: true})
	src.AddNode("Node", Props{"name": "Test"})

	reader, _ := src.wal.NewReader(1)
	entry, _ := reader.Next()
	reader.Close()

	dst, _ := Open(dstDir, Options{ShardCount: 1})
	applier := NewApplier(dst)

	if err := applier.Apply(entry); err != nil {
		t.Fatal(err)
	}
	// Applying again should be a no-op — the LSN was already applied.
	if err := applier.Apply(entry); err != nil {
		t.Fatal(err)
	}

	if dst.NodeCount() != 1 {
		t.Fatalf("expected 1 node after idempotent apply, got %d", dst.NodeCount())
	}

	src.Close()
	dst.Close()
}

// TestApplier_AppliedLSN verifies the applied LSN tracking.
func TestApplier_AppliedLSN(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	src, _ := Open(srcDir, Options{ShardCount: 1, EnableWAL: true, WALNoSync: true})
	for i := 0; i < 5; i++ {
		src.AddNode("Node", Props{"i": i})
	}

	reader, _ := src.wal.NewReader(1)
	var entries []*WALEntry
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, entry)
	}
	reader.Close()

	dst, _ := Open(dstDir, Options{ShardCount: 1})
	applier := NewApplier(dst)

	if applier.AppliedLSN() != 0 {
		t.Fatal("initial applied LSN should be 0")
	}

	for _, entry := range entries {
		applier.Apply(entry)
	}

	if applier.AppliedLSN() != entries[len(entries)-1].LSN {
		t.Fatalf("expected applied LSN %d, got %d",
			entries[len(entries)-1].LSN, applier.AppliedLSN())
	}

	src.Close()
	dst.Close()
}

// TestApplier_AllOperationTypes replays every operation type and verifies
// the counts converge to the same state.
func TestApplier_AllOperationTypes(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	src, _ := Open(srcDir, Options{ShardCount: 1, EnableWAL: true, WALNoSync: true})

	id1, _ := src.AddNode("Node", Props{"name": "A"})
	id2, _ := src.AddNode("Person", Props{"name": "B"})
	src.AddNodeBatch([]Props{{"name": "C"}, {"name": "D"}})
	src.UpdateNode(id1, Props{"age": 30})
	src.SetNodeProps(id1, Props{"name": "A2", "age": 31})
	src.SetLabel(id1, "Person")
	edgeID, _ := src.AddEdge(id1, id2, "KNOWS", Props{})
	src.AddEdgeBatch([]Edge{{From: id1, To: id2, Label: "LIKES"}})
	src.UpdateEdge(edgeID, Props{"weight": 1.0})
	src.DeleteEdge(edgeID)
	src.CreateIndex("name")
	src.DropIndex("name")

	srcNodeCount := src.NodeCount()
	srcEdgeCount := src.EdgeCount()

	reader, _ := src.wal.NewReader(1)
	var entries []*WALEntry
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, entry)
	}
	reader.Close()

	dst, _ := Open(dstDir, Options{ShardCount: 1})
	applier := NewApplier(dst)
	for _, entry := range entries {
		if err := applier.Apply(entry); err != nil {
			t.Fatalf("apply LSN %d (%s) failed: %v", entry.LSN, entry.Op, err)
		}
	}

	if dst.NodeCount() != srcNodeCount {
		t.Errorf("node count: src=%d dst=%d", srcNodeCount, dst.NodeCount())
	}
	if dst.EdgeCount() != srcEdgeCount {
		t.Errorf("edge count: src=%d dst=%d", srcEdgeCount, dst.EdgeCount())
	}

	src.Close()
	dst.Close()
}
