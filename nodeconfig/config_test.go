package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"torrentnode.dev/indexer/workers"
)

func TestNormalizeServers(t *testing.T) {
	got := NormalizeServers("127.0.0.1:19001, 127.0.0.1:19002", "127.0.0.1:19001", " ", "10.0.0.1:19001")
	want := []string{"127.0.0.1:19001", "127.0.0.1:19002", "10.0.0.1:19001"}
	if len(got) != len(want) {
		t.Fatalf("len=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("at %d got=%q want=%q", i, got[i], want[i])
		}
	}
}

func TestValidateConfigOK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []string{"127.0.0.1:19001"}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfigRejectsMissingServers(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error when servers is empty and get_blocks_from_file is false")
	}
}

func TestValidateConfigAllowsEmptyServersWhenReadingFromFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GetBlocksFromFile = true
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfigRejectsBadPeer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []string{"not-a-peer"}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsUnknownModule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []string{"127.0.0.1:19001"}
	cfg.Modules = []string{"not_a_module"}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsBadBlockVersion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []string{"127.0.0.1:19001"}
	cfg.BlockVersion = "v3"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRequiresSignKeyWhenValidateSignSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []string{"127.0.0.1:19001"}
	cfg.ValidateSign = true
	cfg.SignKey = ""
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsNonHexSignKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []string{"127.0.0.1:19001"}
	cfg.SignKey = "not-hex"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseModulesRecognizesAllNames(t *testing.T) {
	set, err := ParseModules([]string{"block", "block_raw", "users", "node_tests"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := workers.ModuleBlock | workers.ModuleBlockRaw | workers.ModuleUsers | workers.ModuleNodeTests
	if set != want {
		t.Fatalf("got %v want %v", set, want)
	}
}

func TestParseModulesRejectsUnknown(t *testing.T) {
	if _, err := ParseModules([]string{"bogus"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadAppliesFileOverDefaultsAndResolvesServerFile(t *testing.T) {
	dir := t.TempDir()

	serversPath := filepath.Join(dir, "servers.txt")
	if err := os.WriteFile(serversPath, []byte("127.0.0.1:19001, 127.0.0.1:19002\n10.0.0.1:19001\n"), 0o600); err != nil {
		t.Fatalf("write servers file: %v", err)
	}

	cfgPath := filepath.Join(dir, "node.yaml")
	contents := "path_to_bd: " + filepath.Join(dir, "db") + "\n" +
		"path_to_folder: " + filepath.Join(dir, "blocks") + "\n" +
		"port: 9090\n" +
		"servers:\n  - " + serversPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("port not applied from file: got %d", cfg.Port)
	}
	want := []string{"127.0.0.1:19001", "127.0.0.1:19002", "10.0.0.1:19001"}
	if len(cfg.Servers) != len(want) {
		t.Fatalf("servers not resolved from file: got %v", cfg.Servers)
	}
	for i := range want {
		if cfg.Servers[i] != want[i] {
			t.Fatalf("at %d got=%q want=%q", i, cfg.Servers[i], want[i])
		}
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}
