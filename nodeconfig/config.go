// Package nodeconfig loads and validates the node's startup configuration:
// storage paths, thread/connection limits, cache sizing, the peer list,
// the enabled worker modules, and the node's own signing key.
package nodeconfig

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"torrentnode.dev/indexer/workers"
)

// BlockVersion names the wire block format a node writes new archive
// records in.
type BlockVersion string

const (
	BlockVersionV1 BlockVersion = "v1"
	BlockVersionV2 BlockVersion = "v2"
)

// Config is the full set of fields a config file supplies, unmarshaled
// from YAML. Field names mirror the on-disk keys via yaml tags rather
// than renaming them to Go convention.
type Config struct {
	PathToBD     string `yaml:"path_to_bd"`
	PathToDir    string `yaml:"path_to_folder"`
	CountThreads int    `yaml:"count_threads"`

	WriteBufferSizeMB int  `yaml:"write_buffer_size_mb"`
	LRUCacheMB        int  `yaml:"lru_cache_mb"`
	IsBloomFilter     bool `yaml:"is_bloom_filter"`
	IsChecks          bool `yaml:"is_checks"`

	Port              int  `yaml:"port"`
	GetBlocksFromFile bool `yaml:"get_blocks_from_file"`
	CountConnections  int  `yaml:"count_connections"`

	// Servers is either an inline peer list or, when len==1 and that
	// entry names a readable file, the path to a file of "srv1, srv2"
	// edges — resolved by Load, never by Validate.
	Servers []string `yaml:"servers"`

	Modules []string `yaml:"modules"`

	AdvancedLoadBlocks         bool `yaml:"advanced_load_blocks"`
	MaxCountElementsBlockCache int  `yaml:"max_count_elements_block_cache"`
	MaxCountBlocksTxsCache     int  `yaml:"max_count_blocks_txs_cache"`
	MaxLocalCacheElements      int  `yaml:"max_local_cache_elements"`

	SignKey string `yaml:"sign_key"`

	BlockVersion BlockVersion `yaml:"block_version"`

	Validate     bool `yaml:"validate"`
	ValidateSign bool `yaml:"validateSign"`

	TestNodesResultServer string `yaml:"test_nodes_result_server"`
	OtherTorrentPort      int    `yaml:"other_torrent_port"`
}

// DefaultConfig returns the baseline a node starts from before a config
// file is applied on top. It leaves Servers empty, so it passes
// ValidateConfig only once servers are supplied or get_blocks_from_file
// is set.
func DefaultConfig() Config {
	return Config{
		PathToBD:                   "./db",
		PathToDir:                  "./blocks",
		CountThreads:               4,
		WriteBufferSizeMB:          64,
		LRUCacheMB:                 256,
		IsBloomFilter:              true,
		IsChecks:                   true,
		Port:                       8080,
		CountConnections:           8,
		Modules:                    []string{"block"},
		MaxCountElementsBlockCache: 10000,
		MaxCountBlocksTxsCache:     10000,
		MaxLocalCacheElements:      10000,
		BlockVersion:               BlockVersionV2,
		Validate:                   true,
		ValidateSign:               false,
	}
}

// Load reads the YAML config file at path, applies it over DefaultConfig,
// resolves Servers against a peer-list file when needed, and validates
// the result.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("nodeconfig: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("nodeconfig: parse %s: %w", path, err)
	}
	cfg.Servers, err = resolveServers(cfg.Servers)
	if err != nil {
		return Config{}, fmt.Errorf("nodeconfig: servers: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveServers expands a single-entry Servers list naming a readable
// file into the comma-separated "srv1, srv2" edges that file holds; an
// inline multi-entry list is returned unchanged.
func resolveServers(servers []string) ([]string, error) {
	if len(servers) != 1 {
		return NormalizeServers(servers...), nil
	}
	candidate := strings.TrimSpace(servers[0])
	f, err := os.Open(candidate)
	if err != nil {
		return NormalizeServers(servers...), nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NormalizeServers(lines...), nil
}

// NormalizeServers splits each raw entry on commas, trims whitespace,
// drops empties, and dedupes while preserving first-seen order.
func NormalizeServers(raw ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

// ParseModules maps the configured module names onto the worker bitset,
// rejecting any name the node doesn't recognize.
func ParseModules(names []string) (workers.ModuleSet, error) {
	var set workers.ModuleSet
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case "block":
			set |= workers.ModuleBlock
		case "block_raw":
			set |= workers.ModuleBlockRaw
		case "users":
			set |= workers.ModuleUsers
		case "node_tests":
			set |= workers.ModuleNodeTests
		default:
			return 0, fmt.Errorf("nodeconfig: unknown module %q", name)
		}
	}
	return set, nil
}

// SignKeyBytes hex-decodes the configured signing scalar.
func (c Config) SignKeyBytes() ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(c.SignKey))
	if err != nil {
		return nil, fmt.Errorf("nodeconfig: sign_key is not valid hex: %w", err)
	}
	return raw, nil
}

// ValidateConfig checks every field for a value the rest of the node can
// actually run with, one targeted check per field rather than a single
// catch-all.
func ValidateConfig(cfg Config) error {
	if cfg.PathToBD == "" {
		return errors.New("nodeconfig: path_to_bd is required")
	}
	if cfg.PathToDir == "" {
		return errors.New("nodeconfig: path_to_folder is required")
	}
	if cfg.CountThreads <= 0 {
		return errors.New("nodeconfig: count_threads must be positive")
	}
	if cfg.WriteBufferSizeMB <= 0 {
		return errors.New("nodeconfig: write_buffer_size_mb must be positive")
	}
	if cfg.LRUCacheMB < 0 {
		return errors.New("nodeconfig: lru_cache_mb must not be negative")
	}
	if err := validatePort(cfg.Port); err != nil {
		return err
	}
	if cfg.CountConnections <= 0 {
		return errors.New("nodeconfig: count_connections must be positive")
	}
	if !cfg.GetBlocksFromFile {
		if len(cfg.Servers) == 0 {
			return errors.New("nodeconfig: servers is required when get_blocks_from_file is false")
		}
		for _, s := range cfg.Servers {
			if err := validatePeerAddr(s); err != nil {
				return err
			}
		}
	}
	if len(cfg.Modules) == 0 {
		return errors.New("nodeconfig: modules must name at least one module")
	}
	if _, err := ParseModules(cfg.Modules); err != nil {
		return err
	}
	if cfg.MaxCountElementsBlockCache <= 0 {
		return errors.New("nodeconfig: max_count_elements_block_cache must be positive")
	}
	if cfg.MaxCountBlocksTxsCache <= 0 {
		return errors.New("nodeconfig: max_count_blocks_txs_cache must be positive")
	}
	if cfg.MaxLocalCacheElements <= 0 {
		return errors.New("nodeconfig: max_local_cache_elements must be positive")
	}
	switch cfg.BlockVersion {
	case BlockVersionV1, BlockVersionV2:
	default:
		return fmt.Errorf("nodeconfig: block_version must be v1 or v2, got %q", cfg.BlockVersion)
	}
	if cfg.ValidateSign && cfg.SignKey == "" {
		return errors.New("nodeconfig: sign_key is required when validateSign is set")
	}
	if cfg.SignKey != "" {
		if _, err := cfg.SignKeyBytes(); err != nil {
			return err
		}
	}
	if cfg.TestNodesResultServer != "" {
		if err := validatePeerAddr(cfg.TestNodesResultServer); err != nil {
			return fmt.Errorf("nodeconfig: test_nodes_result_server: %w", err)
		}
	}
	if cfg.OtherTorrentPort != 0 {
		if err := validatePort(cfg.OtherTorrentPort); err != nil {
			return fmt.Errorf("nodeconfig: other_torrent_port: %w", err)
		}
	}
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("nodeconfig: port %d out of range", port)
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("nodeconfig: invalid peer address %q: empty", addr)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("nodeconfig: invalid peer address %q: %w", addr, err)
	}
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("nodeconfig: invalid peer address %q: missing host", addr)
	}
	n, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return fmt.Errorf("nodeconfig: invalid peer address %q: bad port", addr)
	}
	return validatePort(n)
}
