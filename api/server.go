// Package api serves the node's HTTP/JSON query surface: status, head
// discovery, header and dump lookups, and test-signing, answering the
// same request shapes blocksource/peersrc issues against a node's peers.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"torrentnode.dev/indexer/blocksource"
	"torrentnode.dev/indexer/chain"
	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/kvstore"
	"torrentnode.dev/indexer/sig"
)

// DumpSource supplies raw block bytes for a header the resolver/kv store
// already know about; workers.CacheWarmer satisfies it. blocksource.Source
// has no GetDump method and is not a DumpSource.
type DumpSource interface {
	GetDump(hash codec.Hash256) ([]byte, bool)
}

// headerCache is the recency-based response cache the cache warmer's own
// attribute cache deliberately left for this package to own: callers
// hammer get-block-by-number for the same recent heights far more than
// they ask for one evicted by block-number window, so a plain
// LRU on the wire projection fits better here than an attribute index.
type headerCache struct {
	byNumber *lru.Cache[uint64, blocksource.HeaderWire]
	byHash   *lru.Cache[codec.Hash256, blocksource.HeaderWire]
}

func newHeaderCache(size int) *headerCache {
	if size <= 0 {
		return nil
	}
	byNumber, _ := lru.New[uint64, blocksource.HeaderWire](size)
	byHash, _ := lru.New[codec.Hash256, blocksource.HeaderWire](size)
	return &headerCache{byNumber: byNumber, byHash: byHash}
}

// Server answers the query surface against a node's own resolver, kv
// store, and dump archive.
type Server struct {
	resolver *chain.Resolver
	store    *kvstore.Store
	dumps    DumpSource         // optional; checked before archive
	archive  blocksource.Source // optional; e.g. filesrc.Source, the fallback when dumps misses or is nil
	signer   sig.Keypair

	version string
	gitHash string

	headers *headerCache

	log *zap.Logger
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithHeaderCache bounds the server to an LRU of at most size projected
// headers per lookup key; size <= 0 disables the cache.
func WithHeaderCache(size int) Option {
	return func(s *Server) { s.headers = newHeaderCache(size) }
}

// WithArchive configures the fallback dump source consulted when dumps
// is nil or misses, typically the node's own filesrc.Source pointed at
// its archive directory.
func WithArchive(archive blocksource.Source) Option {
	return func(s *Server) { s.archive = archive }
}

// NewServer builds a Server. dumps may be nil, in which case the
// dump-serving endpoints fall back to the configured archive (if any) or
// answer NotFound.
func NewServer(resolver *chain.Resolver, store *kvstore.Store, dumps DumpSource, signer sig.Keypair, version, gitHash string, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		resolver: resolver,
		store:    store,
		dumps:    dumps,
		signer:   signer,
		version:  version,
		gitHash:  gitHash,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router answering every query-surface endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Timeout(30 * time.Second))
	r.MethodNotAllowed(methodNotAllowedHandler)

	r.Post("/status", s.handleStatus)
	r.Post("/get-count-blocks", s.handleCountBlocks)
	r.Post("/get-block-by-hash", s.handleBlockByHash)
	r.Post("/get-block-by-number", s.handleBlockByNumber)
	r.Post("/get-blocks", s.handleBlocks)
	r.Post("/get-dump-block-by-hash", s.handleDumpByHash)
	r.Post("/get-dump-block-by-number", s.handleDumpByNumber)
	r.Post("/get-dumps-blocks-by-hash", s.handleDumpsByHash)
	r.Post("/get-dumps-blocks-by-number", s.handleDumpsByNumber)
	r.Post("/sign-test-string", s.handleSignTestString)

	return r
}

// requestLogger logs one line per request at debug level; the query
// surface is hit far too often for info-level per-request logging.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("api: request",
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}
