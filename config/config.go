// Package config loads the bridge's Policy from a JSON document.
// Grounded in tim-coutinho-agentops/cli/internal/config's Default()-
// plus-Load() layering idea, narrowed from that teacher's YAML+env-var
// layered resolution to a single strict JSON file with no environment
// overrides: spec.md's configuration contract calls for exactly one
// file, with unknown fields rejected outright rather than warned about
// (see DESIGN.md for why the env/YAML layers were dropped).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jonwraymond/kalibridge/kalitypes"
)

// Load reads and validates a Policy from the JSON file at path. An
// empty path returns kalitypes.DefaultPolicy() unchanged, the
// zero-configuration default described in spec §4.1.
func Load(path string) (kalitypes.Policy, error) {
	if path == "" {
		return kalitypes.DefaultPolicy(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return kalitypes.Policy{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	policy := kalitypes.DefaultPolicy()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&policy); err != nil {
		return kalitypes.Policy{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	policy.AllowedTools = toSet(policy.AllowedToolsList)

	if err := policy.Validate(); err != nil {
		return kalitypes.Policy{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return policy, nil
}

func toSet(tools []string) map[string]bool {
	set := make(map[string]bool, len(tools))
	for _, t := range tools {
		set[t] = true
	}
	return set
}
