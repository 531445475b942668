package graphdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mstrYoda/msographdb/mso"
)

// ---------------------------------------------------------------------------
// Feature 4: Panic Recovery
// ---------------------------------------------------------------------------

func TestPanicRecovery_SafeExecute(t *testing.T) {
	err := safeExecute(func() error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panic, got nil")
	}
	if !errors.Is(err, ErrQueryPanic) {
		t.Fatalf("expected ErrQueryPanic, got: %v", err)
	}
	// Verify the error message contains the panic value and stack trace.
	if msg := err.Error(); len(msg) < 50 {
		t.Fatalf("expected detailed error with stack trace, got: %s", msg)
	}
}

func TestPanicRecovery_SafeExecuteResult(t *testing.T) {
	result, err := safeExecuteResult(func() (int, error) {
		panic("result boom")
	})
	if err == nil {
		t.Fatal("expected error from panic, got nil")
	}
	if !errors.Is(err, ErrQueryPanic) {
		t.Fatalf("expected ErrQueryPanic, got: %v", err)
	}
	if result != 0 {
		t.Fatalf("expected zero value result, got: %d", result)
	}
}

func TestPanicRecovery_NormalExecution(t *testing.T) {
	// safeExecute with no panic should work normally.
	err := safeExecute(func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}

	// safeExecute with a normal error should propagate the error.
	expected := fmt.Errorf("normal error")
	err = safeExecute(func() error {
		return expected
	})
	if err != expected {
		t.Fatalf("expected %v, got: %v", expected, err)
	}
}

func TestPanicRecovery_DecideEntryPoint(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{ShardCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.AddNode("Person", Props{"name": "Alice"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	plan, err := mso.NewBuilder().Exist("x").Filter(`V(x).has("name", "Alice")`).Build()
	if err != nil {
		t.Fatal(err)
	}
	ok, err := db.Decide(context.Background(), plan)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !ok {
		t.Fatalf("expected ∃x x.name = Alice to be true")
	}
}

// ---------------------------------------------------------------------------
// Feature 2: Query Governor — MaxResultSubsets, default query timeout
// ---------------------------------------------------------------------------

func TestGovernor_MaxResultSubsets(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{
		ShardCount:       1,
		MaxResultSubsets: 5, // very low limit for testing
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// Insert 10 isolated nodes; each is its own weakly-connected component,
	// so a collect over the wcc family yields 10 witnesses.
	for i := 0; i < 10; i++ {
		if _, err := db.AddNode("Item", Props{"i": i}); err != nil {
			t.Fatal(err)
		}
	}

	plan, err := mso.NewBuilder().ExistSet("s").Family(mso.FamilyWCC).Filter(`true`).Build()
	if err != nil {
		t.Fatal(err)
	}

	_, err = db.Collect(context.Background(), plan)
	if err == nil {
		t.Fatal("expected ErrTooLargeResult, got nil")
	}
	if !errors.Is(err, mso.ErrTooLargeResult) {
		t.Fatalf("expected ErrTooLargeResult, got: %v", err)
	}
}

func TestGovernor_DefaultQueryTimeout(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{ShardCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.governor.defaultTimeout = 50 * time.Millisecond

	// The governor should apply a default timeout when none is set.
	ctx := context.Background()
	wrapped, cancel := db.governor.wrapContext(ctx)
	defer cancel()

	deadline, hasDeadline := wrapped.Deadline()
	if !hasDeadline {
		t.Fatal("expected wrapped context to have a deadline")
	}
	if time.Until(deadline) > 100*time.Millisecond {
		t.Fatal("deadline is too far in the future")
	}

	// With an explicit deadline, the governor should NOT override it.
	explicitCtx, explicitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer explicitCancel()

	wrapped2, cancel2 := db.governor.wrapContext(explicitCtx)
	defer cancel2()

	deadline2, _ := wrapped2.Deadline()
	if time.Until(deadline2) < 4*time.Second {
		t.Fatal("governor should not override an explicit deadline")
	}
}

func TestGovernor_ZeroLimitsFallBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{
		ShardCount:       1,
		MaxResultSubsets: 0, // both limits 0: the engine uses mso.DefaultOptions() (100_000 witnesses)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 20; i++ {
		if _, err := db.AddNode("Item", Props{"i": i}); err != nil {
			t.Fatal(err)
		}
	}

	plan, err := mso.NewBuilder().ExistSet("s").Family(mso.FamilyWCC).Filter(`true`).Build()
	if err != nil {
		t.Fatal(err)
	}
	result, err := db.Collect(context.Background(), plan)
	if err != nil {
		t.Fatalf("expected no error with the default result-subset limit, got: %v", err)
	}
	if result.TotalCount != 20 {
		t.Fatalf("expected 20 witnesses, got: %d", result.TotalCount)
	}
}

// ---------------------------------------------------------------------------
// Feature 1: Write Backpressure
// ---------------------------------------------------------------------------

func TestBackpressure_ConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{
		ShardCount:     1,
		WriteQueueSize: 4, // small queue for testing
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// Launch many concurrent writers. They should all eventually succeed
	// (the semaphore just limits concurrency, not total throughput).
	const numWriters = 50
	var wg sync.WaitGroup
	errs := make([]error, numWriters)

	wg.Add(numWriters)
	for i := 0; i < numWriters; i++ {
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = db.AddNode("Writer", Props{"writer": idx})
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		if e != nil {
			t.Fatalf("writer %d failed: %v", i, e)
		}
	}

	count := db.NodeCount()
	if count != numWriters {
		t.Fatalf("expected %d nodes, got %d", numWriters, count)
	}
}

func TestBackpressure_WriteTimeout(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{
		ShardCount:     1,
		WriteQueueSize: 1,                    // only 1 slot
		WriteTimeout:   1 * time.Millisecond, // very short timeout
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := db.shards[0]

	// Fill the semaphore manually to simulate full queue.
	s.writeSem <- struct{}{}

	err = s.acquireWrite(context.Background())
	if err == nil {
		t.Fatal("expected ErrWriteQueueFull, got nil")
	}
	if !errors.Is(err, ErrWriteQueueFull) {
		t.Fatalf("expected ErrWriteQueueFull, got: %v", err)
	}

	<-s.writeSem
}

func TestBackpressure_ContextCancellation(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{
		ShardCount:     1,
		WriteQueueSize: 1, // only 1 slot
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := db.shards[0]

	s.writeSem <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.acquireWrite(ctx)
	if err == nil {
		t.Fatal("expected error on cancelled context, got nil")
	}
	if !errors.Is(err, ErrWriteQueueFull) {
		t.Fatalf("expected ErrWriteQueueFull, got: %v", err)
	}

	<-s.writeSem
}

// ---------------------------------------------------------------------------
// Feature 3: Compaction / GC
// ---------------------------------------------------------------------------

func TestCompaction_Basic(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{ShardCount: 1})
	if err != nil {
		t.Fatal(err)
	}

	var ids []NodeID
	for i := 0; i < 500; i++ {
		id, err := db.AddNode("Item", Props{"data": fmt.Sprintf("payload-%d-padding-to-fill-pages", i)})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		if err := db.DeleteNode(id); err != nil {
			t.Fatal(err)
		}
	}

	sizeBefore, _ := db.shards[0].fileSize()

	saved, err := db.Compact()
	if err != nil {
		t.Fatalf("compaction failed: %v", err)
	}

	sizeAfter, _ := db.shards[0].fileSize()

	t.Logf("before=%d after=%d saved=%d", sizeBefore, sizeAfter, saved)

	if sizeAfter > sizeBefore {
		t.Fatalf("compacted file is larger: before=%d after=%d", sizeBefore, sizeAfter)
	}

	id, err := db.AddNode("Item", Props{"post_compact": true})
	if err != nil {
		t.Fatalf("failed to add node after compaction: %v", err)
	}

	node, err := db.GetNode(id)
	if err != nil {
		t.Fatalf("failed to get node after compaction: %v", err)
	}
	if node.Props["post_compact"] != true {
		t.Fatalf("unexpected props after compaction: %v", node.Props)
	}

	db.Close()
}

func TestCompaction_PreservesData(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{ShardCount: 1})
	if err != nil {
		t.Fatal(err)
	}

	id1, _ := db.AddNode("Person", Props{"name": "Alice"})
	id2, _ := db.AddNode("Person", Props{"name": "Bob"})
	db.AddEdge(id1, id2, "KNOWS", Props{"since": "2024"})

	_, err = db.Compact()
	if err != nil {
		t.Fatalf("compaction failed: %v", err)
	}

	n1, _ := db.GetNode(id1)
	if n1.Props["name"] != "Alice" {
		t.Fatalf("Alice lost after compaction")
	}
	n2, _ := db.GetNode(id2)
	if n2.Props["name"] != "Bob" {
		t.Fatalf("Bob lost after compaction")
	}

	edges, err := db.OutEdgesLabeled(id1, "KNOWS")
	if err != nil {
		t.Fatalf("query failed after compaction: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}

	db.Close()
}

func TestCompaction_ShardFileExists(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{ShardCount: 2})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		db.AddNode("Item", Props{"i": i})
	}

	_, err = db.Compact()
	if err != nil {
		t.Fatalf("compaction failed: %v", err)
	}

	for i, s := range db.shards {
		if _, statErr := os.Stat(s.path); os.IsNotExist(statErr) {
			t.Fatalf("shard %d file missing after compaction: %s", i, s.path)
		}
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.compact.tmp"))
	if len(matches) > 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}

	db.Close()
}

// ---------------------------------------------------------------------------
// Integration: multiple features working together
// ---------------------------------------------------------------------------

func TestIntegration_GovernorAndPanicRecovery(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{
		ShardCount:       1,
		MaxResultSubsets: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 20; i++ {
		if _, err := db.AddNode("Item", Props{"i": i}); err != nil {
			t.Fatal(err)
		}
	}

	plan, err := mso.NewBuilder().ExistSet("s").Family(mso.FamilyWCC).Filter(`true`).Build()
	if err != nil {
		t.Fatal(err)
	}

	// The mso engine's MaxResultSubsets cap should reject the oversized witness set.
	_, err = db.Collect(context.Background(), plan)
	if !errors.Is(err, mso.ErrTooLargeResult) {
		t.Fatalf("expected ErrTooLargeResult, got: %v", err)
	}

	// The DB should remain operational after the engine rejected a query.
	ok, err := db.Decide(context.Background(), mustBuild(t, mso.NewBuilder().Exist("x").Filter(`true`)))
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if !ok {
		t.Fatalf("expected ∃x true to hold over a non-empty vertex domain")
	}
}

func mustBuild(t *testing.T, b *mso.Builder) *mso.QueryPlan {
	t.Helper()
	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestIntegration_BackpressureAndCompaction(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{
		ShardCount:     1,
		WriteQueueSize: 8,
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id, err := db.AddNode("Item", Props{"data": fmt.Sprintf("node-%d", idx)})
			if err != nil {
				return
			}
			if idx%2 == 0 {
				db.DeleteNode(id)
			}
		}(i)
	}
	wg.Wait()

	_, err = db.Compact()
	if err != nil {
		t.Fatalf("compaction after write storm failed: %v", err)
	}

	_, err = db.AddNode("Item", Props{"post": true})
	if err != nil {
		t.Fatalf("post-compaction write failed: %v", err)
	}

	db.Close()
}
