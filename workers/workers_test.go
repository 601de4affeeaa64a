package workers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/kvstore"
	"torrentnode.dev/indexer/syncdriver"
)

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.Open(filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitForCheckpoint(t *testing.T, w syncdriver.Worker, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, ok := w.InitBlockNumber(); ok && n == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for checkpoint %d", want)
}

func chainedBlock(number uint64, prev codec.Hash256, seed string) codec.BlockHeader {
	return codec.BlockHeader{
		BlockType:   codec.BlockTypeSimple,
		Hash:        codec.DoubleSHA256([]byte(seed)),
		PrevHash:    prev,
		BlockNumber: number,
	}
}

func TestCacheWarmerFilesAndEvictsByBlockWindow(t *testing.T) {
	w := NewCacheWarmer(2, 2, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	b1 := chainedBlock(1, codec.Hash256{}, "b1")
	b1.Txs = []codec.TransactionInfo{{Hash: codec.DoubleSHA256([]byte("tx1"))}}
	b2 := chainedBlock(2, b1.Hash, "b2")
	b3 := chainedBlock(3, b2.Hash, "b3")

	for _, h := range []codec.BlockHeader{b1, b2, b3} {
		if err := w.Enqueue(ctx, syncdriver.WorkItem{Header: h, Dump: []byte("dump")}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitForCheckpoint(t, w, 3)

	if _, ok := w.GetDump(b1.Hash); ok {
		t.Fatalf("expected block 1's dump to have been evicted by the window")
	}
	if _, ok := w.GetDump(b3.Hash); !ok {
		t.Fatalf("expected block 3's dump to still be cached")
	}
}

func TestMainIndexerEnforcesPrevHashAndPersists(t *testing.T) {
	store := openTestStore(t)
	m := NewMainIndexer(store, 0, codec.Hash256{}, false, 0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	genesis := chainedBlock(1, codec.Hash256{}, "g")
	if err := m.Enqueue(ctx, syncdriver.WorkItem{Header: genesis}); err != nil {
		t.Fatalf("Enqueue genesis: %v", err)
	}
	waitForCheckpoint(t, m, 1)

	got, err := store.GetMainBlockInfo(1)
	if err != nil {
		t.Fatalf("GetMainBlockInfo: %v", err)
	}
	if got.BlockHash != genesis.Hash {
		t.Fatalf("expected ms_ to point at the genesis hash")
	}

	bad := chainedBlock(2, codec.Hash256{}, "wrong-parent")
	if err := m.Enqueue(ctx, syncdriver.WorkItem{Header: bad}); err != nil {
		t.Fatalf("Enqueue bad block: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n, _ := m.InitBlockNumber(); n != 1 {
		t.Fatalf("expected the mismatched-parent block to be refused, checkpoint stayed at %d", n)
	}
}

func TestNodeTestWorkerRecordsRegistrationAndIgnoresJunk(t *testing.T) {
	store := openTestStore(t)
	n, err := NewNodeTest(store, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNodeTest: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Start(ctx)

	reg := []byte(`{"method":"mh-noderegistration","params":{"host":"10.0.0.1:9090","name":"alpha"}}`)
	block := chainedBlock(1, codec.Hash256{}, "b1")
	block.Txs = []codec.TransactionInfo{
		{Data: reg},
		{Data: []byte("not json")},
		{Data: []byte(`{"method":"something-else"}`)},
	}
	if err := n.Enqueue(ctx, syncdriver.WorkItem{Header: block}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForCheckpoint(t, n, 1)

	nodes, err := store.AllNodes()
	if err != nil {
		t.Fatalf("AllNodes: %v", err)
	}
	if nodes.Entries["10.0.0.1:9090"] != "alpha" {
		t.Fatalf("expected the registered node to be recorded, got %+v", nodes.Entries)
	}
}

func TestParseNodeRegistrationRejectsMalformedPayloads(t *testing.T) {
	if _, _, ok := parseNodeRegistration([]byte("not json")); ok {
		t.Fatalf("expected non-JSON data to be rejected")
	}
	if _, _, ok := parseNodeRegistration([]byte(`{"method":"mh-noderegistration"}`)); ok {
		t.Fatalf("expected a missing params object to be rejected")
	}
	host, name, ok := parseNodeRegistration([]byte(`{"method":"mh-noderegistration","params":{"host":"h","name":"n"}}`))
	if !ok || host != "h" || name != "n" {
		t.Fatalf("expected a well-formed registration to parse, got host=%q name=%q ok=%v", host, name, ok)
	}
}
