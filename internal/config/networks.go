package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Network is one deployment target: the factory emitting market events
// and the settlement currency every market margins in.
type Network struct {
	Name            string `yaml:"name"`
	ProtocolName    string `yaml:"protocol_name"`
	ProtocolSlug    string `yaml:"protocol_slug"`
	FactoryAddress  string `yaml:"factory_address"`
	SettlementToken string `yaml:"settlement_token"`
}

// BuiltinNetworks returns the deployments shipped with the binary.
func BuiltinNetworks() map[string]Network {
	return map[string]Network{
		"optimism": {
			Name:            "optimism",
			ProtocolName:    "Kwenta Futures",
			ProtocolSlug:    "kwenta-futures",
			FactoryAddress:  "0x920cf626a271321c151d027030d5d08af699456b",
			SettlementToken: "0x8c6f28f2f1a3c87f0f938b96d27520d9751ec8d9",
		},
	}
}

type networksFile struct {
	Networks []Network `yaml:"networks"`
}

// LoadNetworks reads additional deployments from a YAML file. Entries
// with the same name override the builtins.
func LoadNetworks(path string) (map[string]Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read networks file %s", path)
	}

	var f networksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse networks file %s", path)
	}

	out := make(map[string]Network, len(f.Networks))
	for _, n := range f.Networks {
		if n.Name == "" {
			return nil, errors.Errorf("networks file %s: entry missing name", path)
		}
		out[n.Name] = n
	}
	return out, nil
}

// ResolveNetwork picks the deployment by name, consulting the optional
// networks file first and the builtins second.
func ResolveNetwork(name, path string) (Network, error) {
	if path != "" {
		loaded, err := LoadNetworks(path)
		if err != nil {
			return Network{}, err
		}
		if n, ok := loaded[name]; ok {
			return n, nil
		}
	}
	if n, ok := BuiltinNetworks()[name]; ok {
		return n, nil
	}
	return Network{}, errors.Errorf("unknown network %q", name)
}
