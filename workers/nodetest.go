package workers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/kvstore"
	"torrentnode.dev/indexer/syncdriver"
	"torrentnode.dev/indexer/xerr"
)

const nodeTestCheckpointKey = "node_test_checkpoint"

// nodeRegistrationRequest is the JSON shape a transaction's data carries
// when it self-reports a node's name: {"method":"mh-noderegistration",
// "params":{"host":"...", "name":"..."}}.
type nodeRegistrationRequest struct {
	Method string `json:"method"`
	Params struct {
		Host string `json:"host"`
		Name string `json:"name"`
	} `json:"params"`
}

// NodeTest is the node-test worker stage: it watches every transaction
// for a self-reported node name and records it in the node directory.
type NodeTest struct {
	stage

	store *kvstore.Store

	lastHash  codec.Hash256
	lastKnown bool
}

// NewNodeTest builds a node-test worker, loading its own checkpoint from
// the store (if any) so the prev-hash check is correct from the start.
func NewNodeTest(store *kvstore.Store, log *zap.Logger) (*NodeTest, error) {
	n := &NodeTest{stage: newStage("node-test", log), store: store}
	raw, ok, err := store.GetState(nodeTestCheckpointKey)
	if err != nil {
		return nil, err
	}
	if ok {
		var off int
		info, err := codec.DeserializeMainBlockInfo(raw, &off)
		if err != nil {
			return nil, err
		}
		n.lastHash, n.lastKnown = info.BlockHash, true
		n.commit(info.BlockNumber)
	}
	return n, nil
}

func (n *NodeTest) Start(ctx context.Context) {
	n.run(ctx, n.process)
}

func (n *NodeTest) process(_ context.Context, item syncdriver.WorkItem) error {
	if num, ok := n.InitBlockNumber(); ok && item.Header.BlockNumber <= num {
		return nil
	}
	if n.lastKnown && !n.lastHash.Zero() && n.lastHash != item.Header.PrevHash {
		return xerr.New(xerr.Integrity, "workers: node-test: prev_hash does not extend the canonical chain")
	}

	for _, tx := range item.Header.Txs {
		host, name, ok := parseNodeRegistration(tx.Data)
		if !ok {
			continue
		}
		if err := n.store.SetNodeName(host, name); err != nil {
			return err
		}
	}

	checkpoint := codec.MainBlockInfo{BlockNumber: item.Header.BlockNumber, BlockHash: item.Header.Hash}
	if err := n.store.PutState(nodeTestCheckpointKey, checkpoint.Serialize()); err != nil {
		return err
	}
	n.lastHash, n.lastKnown = item.Header.Hash, true
	return nil
}

// parseNodeRegistration extracts the host/name pair from a transaction's
// data when it is a well-formed mh-noderegistration request. Malformed
// or unrelated data is silently ignored, matching the original worker's
// tolerance of arbitrary user-submitted transaction payloads.
func parseNodeRegistration(data []byte) (host, name string, ok bool) {
	if len(data) < 2 || data[0] != '{' || data[len(data)-1] != '}' {
		return "", "", false
	}
	var req nodeRegistrationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", "", false
	}
	if req.Method != "mh-noderegistration" || req.Params.Host == "" || req.Params.Name == "" {
		return "", "", false
	}
	return req.Params.Host, req.Params.Name, true
}
