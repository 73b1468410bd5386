package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source loads a fresh catalog snapshot.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

// pluginTag is the local YAML tag used by the plugin data file.
const pluginTag = "!PlugIn"

// FileSource reads plugins from a YAML data file on every Load.
type FileSource struct {
	path        string
	marketplace Marketplace
}

// NewFileSource creates a source backed by the YAML file at path.
func NewFileSource(path string, m Marketplace) *FileSource {
	return &FileSource{path: path, marketplace: m}
}

// Load reads and validates the data file.
func (s *FileSource) Load(ctx context.Context) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin data file: %w", err)
	}

	plugins, err := ParsePlugins(data)
	if err != nil {
		return nil, err
	}

	return New(s.marketplace, plugins)
}

// ParsePlugins decodes a YAML sequence of plugin mappings. Mappings may carry the
// !PlugIn tag or no tag at all.
func ParsePlugins(data []byte) ([]Plugin, error) {
	var docs []pluginDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}

	plugins := make([]Plugin, 0, len(docs))
	for _, d := range docs {
		plugins = append(plugins, d.Plugin)
	}
	return plugins, nil
}

type pluginDoc struct {
	Plugin
}

func (d *pluginDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: plugin entry must be a mapping", node.Line)
	}
	switch node.ShortTag() {
	case "!!map", pluginTag:
	default:
		return fmt.Errorf("line %d: unexpected tag %s on plugin entry", node.Line, node.Tag)
	}

	plain := *node
	plain.Tag = "!!map"
	return plain.Decode(&d.Plugin)
}

// StaticSource serves a fixed snapshot.
type StaticSource struct {
	catalog *Catalog
}

// NewStaticSource validates plugins once and serves the result on every Load.
func NewStaticSource(m Marketplace, plugins []Plugin) (*StaticSource, error) {
	c, err := New(m, plugins)
	if err != nil {
		return nil, err
	}
	return &StaticSource{catalog: c}, nil
}

// Load returns the snapshot.
func (s *StaticSource) Load(ctx context.Context) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.catalog, nil
}
