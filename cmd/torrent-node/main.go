package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"torrentnode.dev/indexer/api"
	"torrentnode.dev/indexer/blocksource"
	"torrentnode.dev/indexer/blocksource/filesrc"
	"torrentnode.dev/indexer/blocksource/peersrc"
	"torrentnode.dev/indexer/chain"
	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/kvstore"
	"torrentnode.dev/indexer/nodeconfig"
	"torrentnode.dev/indexer/sig"
	"torrentnode.dev/indexer/syncdriver"
	"torrentnode.dev/indexer/workers"
)

// dbSchemaVersion is bumped whenever a kvstore record layout changes in
// a way that requires a fresh database.
const dbSchemaVersion = 1

// version/gitHash are overridden at build time via -ldflags.
var (
	version = "dev"
	gitHash = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "usage: torrent-node <config-file>")
		return 2
	}

	cfg, err := nodeconfig.Load(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config load failed: %v\n", err)
		return 2
	}

	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer func() { _ = log.Sync() }()

	store, err := kvstore.Open(cfg.PathToBD)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "kvstore open failed: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	modules, err := nodeconfig.ParseModules(cfg.Modules)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "modules: %v\n", err)
		return 2
	}

	signer, err := loadSigner(cfg, log)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "signer: %v\n", err)
		return 2
	}

	resolver := chain.NewResolver()

	primary, recovery := buildSources(cfg, store, log)

	var workerList []syncdriver.Worker
	var cacheWarmer *workers.CacheWarmer
	if modules.Has(workers.ModuleBlockRaw) {
		cacheWarmer = workers.NewCacheWarmer(cfg.MaxCountElementsBlockCache, cfg.MaxCountBlocksTxsCache, log)
		workerList = append(workerList, cacheWarmer)
	}
	if modules.Has(workers.ModuleBlock) {
		mainIndexer, err := buildMainIndexer(store, log)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "main indexer init failed: %v\n", err)
			return 2
		}
		workerList = append(workerList, mainIndexer)
	}
	if modules.Has(workers.ModuleNodeTests) {
		nodeTest, err := workers.NewNodeTest(store, log)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "node-test init failed: %v\n", err)
			return 2
		}
		workerList = append(workerList, nodeTest)
	}

	driverCfg := syncdriver.Config{
		ModuleBits:       uint64(modules),
		DBVersion:        dbSchemaVersion,
		Validate:         cfg.Validate,
		SaveBlockToFiles: !cfg.GetBlocksFromFile,
		ArchiveDir:       cfg.PathToDir,
		UsersModuleOn:    modules.Has(workers.ModuleUsers),
	}
	driver := syncdriver.NewDriver(driverCfg, store, resolver, primary, recovery, workerList, log)

	archive := filesrc.New(store, cfg.PathToDir)
	var dumpSource api.DumpSource
	if cacheWarmer != nil {
		dumpSource = cacheWarmer
	}
	apiServer := api.NewServer(resolver, store, dumpSource, signer, version, gitHash, log,
		api.WithArchive(archive),
		api.WithHeaderCache(cfg.MaxLocalCacheElements))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: apiServer.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		_, _ = fmt.Fprintf(stdout, "api: listening on %s\n", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api: server stopped", zap.Error(err))
		}
	}()

	driverErr := make(chan error, 1)
	go func() { driverErr <- driver.Start(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-driverErr:
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "sync driver stopped: %v\n", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api: shutdown error", zap.Error(err))
	}

	_, _ = fmt.Fprintln(stdout, "torrent-node stopped")
	return 0
}

// loadSigner builds the node's own signing identity from sign_key if
// configured, or generates an ephemeral one when sign-test-string isn't
// required to be durable across restarts.
func loadSigner(cfg nodeconfig.Config, log *zap.Logger) (sig.Keypair, error) {
	if cfg.SignKey == "" {
		log.Warn("no sign_key configured, generating an ephemeral signing key")
		return sig.GenerateKeypair()
	}
	raw, err := cfg.SignKeyBytes()
	if err != nil {
		return sig.Keypair{}, err
	}
	return sig.KeypairFromBytes(raw)
}

// buildSources picks the primary ingest source and, when it isn't the
// local archive already, a recovery source the driver can replay a
// lagging worker from without re-fetching from peers.
func buildSources(cfg nodeconfig.Config, store *kvstore.Store, log *zap.Logger) (primary, recovery blocksource.Source) {
	if cfg.GetBlocksFromFile {
		return filesrc.New(store, cfg.PathToDir), nil
	}
	peerURLs := make(map[string]string, len(cfg.Servers))
	for _, addr := range cfg.Servers {
		peerURLs[addr] = "http://" + addr
	}
	maxRetries := cfg.CountConnections
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return peersrc.New(peerURLs, maxRetries, log), filesrc.New(store, cfg.PathToDir)
}

// buildMainIndexer loads the main indexer's persisted chain pointer, if
// any, so its prev-hash check and countVal carry-forward are correct
// from the first block the driver hands it.
func buildMainIndexer(store *kvstore.Store, log *zap.Logger) (*workers.MainIndexer, error) {
	blockNumber, ok, err := store.LastMainBlockNumber()
	if err != nil {
		return nil, err
	}
	if !ok {
		return workers.NewMainIndexer(store, 0, codec.Hash256{}, false, 0, log), nil
	}
	info, err := store.GetMainBlockInfo(blockNumber)
	if err != nil {
		return nil, err
	}
	return workers.NewMainIndexer(store, info.BlockNumber, info.BlockHash, true, info.CountVal, log), nil
}
