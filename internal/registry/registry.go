// Package registry loads the declarative model table that maps client-facing
// model names to backend families, checkpoints and default generation
// parameters. The table is read once at startup and is immutable afterwards.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/azaj01/openedai-vision/internal/backend"
	"github.com/azaj01/openedai-vision/internal/common/fsutil"
	"github.com/azaj01/openedai-vision/pkg/types"
)

// file is the on-disk shape of the model table.
type file struct {
	Models map[string]types.ModelEntry `json:"models" yaml:"models" toml:"models"`
}

// Registry is the loaded, validated model table.
type Registry struct {
	entries map[string]types.ModelEntry
	names   []string // sorted, for stable listings
}

// Load reads and validates a model table from path. The format is chosen by
// extension (.json, .yaml/.yml, .toml). All failures are ConfigErrors.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, configError{msg: "empty model config path"}
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, configError{msg: err.Error()}
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, configError{msg: fmt.Sprintf("read model config: %v", err)}
	}
	var f file
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".json":
		err = json.Unmarshal(b, &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &f)
	case ".toml":
		err = toml.Unmarshal(b, &f)
	default:
		return nil, configError{msg: "unsupported model config extension: " + ext}
	}
	if err != nil {
		return nil, configError{msg: fmt.Sprintf("parse model config: %v", err)}
	}
	if len(f.Models) == 0 {
		return nil, configError{msg: "model config defines no models"}
	}
	return build(f.Models)
}

func build(models map[string]types.ModelEntry) (*Registry, error) {
	r := &Registry{entries: make(map[string]types.ModelEntry, len(models))}
	for name, e := range models {
		if strings.TrimSpace(name) == "" {
			return nil, configError{msg: "model name must not be empty"}
		}
		e.Name = name
		if !backend.Known(e.Backend) {
			return nil, configError{msg: fmt.Sprintf("model %q: unknown backend %q", name, e.Backend)}
		}
		if e.Template != "" && !backend.KnownTemplate(e.Template) {
			return nil, configError{msg: fmt.Sprintf("model %q: unknown chat template %q", name, e.Template)}
		}
		if e.Backend == types.BackendGGUF && strings.TrimSpace(e.Checkpoint) == "" {
			return nil, configError{msg: fmt.Sprintf("model %q: gguf backend requires a checkpoint path", name)}
		}
		if (e.Backend == types.BackendLlamaCpp || e.Backend == types.BackendOpenAI) && strings.TrimSpace(e.Endpoint) == "" {
			return nil, configError{msg: fmt.Sprintf("model %q: backend %q requires an endpoint", name, e.Backend)}
		}
		r.entries[name] = e
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// New builds a Registry directly from entries. Used by tests and embedders.
func New(models map[string]types.ModelEntry) (*Registry, error) {
	return build(models)
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (types.ModelEntry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all model names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Entries returns all entries in name order.
func (r *Registry) Entries() []types.ModelEntry {
	out := make([]types.ModelEntry, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.entries[n])
	}
	return out
}

// Len returns the number of configured models.
func (r *Registry) Len() int { return len(r.entries) }
