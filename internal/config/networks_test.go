package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinOptimismNetwork(t *testing.T) {
	n, err := ResolveNetwork("optimism", "")
	if err != nil {
		t.Fatalf("ResolveNetwork: %v", err)
	}
	if n.FactoryAddress != "0x920cf626a271321c151d027030d5d08af699456b" {
		t.Errorf("factory = %q", n.FactoryAddress)
	}
	if n.SettlementToken != "0x8c6f28f2f1a3c87f0f938b96d27520d9751ec8d9" {
		t.Errorf("settlement token = %q", n.SettlementToken)
	}
}

func TestResolveNetworkUnknown(t *testing.T) {
	if _, err := ResolveNetwork("moonbase", ""); err == nil {
		t.Errorf("expected error for unknown network")
	}
}

func TestLoadNetworksOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "networks.yaml")
	content := `networks:
  - name: optimism
    protocol_name: Kwenta Futures
    protocol_slug: kwenta-futures
    factory_address: "0xfac"
    settlement_token: "0x5050"
  - name: base
    protocol_name: Kwenta Futures
    protocol_slug: kwenta-futures
    factory_address: "0xbase"
    settlement_token: "0x5151"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write networks file: %v", err)
	}

	n, err := ResolveNetwork("optimism", path)
	if err != nil {
		t.Fatalf("ResolveNetwork: %v", err)
	}
	if n.FactoryAddress != "0xfac" {
		t.Errorf("file entry should override builtin, factory = %q", n.FactoryAddress)
	}

	n, err = ResolveNetwork("base", path)
	if err != nil {
		t.Fatalf("ResolveNetwork base: %v", err)
	}
	if n.SettlementToken != "0x5151" {
		t.Errorf("settlement token = %q", n.SettlementToken)
	}
}

func TestLoadNetworksMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("networks:\n  - factory_address: \"0x1\"\n"), 0o644); err != nil {
		t.Fatalf("write networks file: %v", err)
	}
	if _, err := LoadNetworks(path); err == nil {
		t.Errorf("expected error for entry without name")
	}
}
