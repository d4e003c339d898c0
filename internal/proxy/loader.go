package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of the proxy document.
type File struct {
	Proxies []Descriptor `yaml:"proxies"`
}

// LoadFile reads and parses a proxy document.
// It accepts either a mapping with a "proxies" key or a bare top-level list.
// JSON documents are accepted as well, since JSON is valid YAML.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a proxy document from memory.
func Parse(data []byte) ([]Descriptor, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse proxy document: %w", err)
	}

	// Empty document
	if len(node.Content) == 0 {
		return nil, nil
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var list []Descriptor
		if err := root.Decode(&list); err != nil {
			return nil, fmt.Errorf("failed to decode proxy list: %w", err)
		}
		return list, nil
	case yaml.MappingNode:
		var f File
		if err := root.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to decode proxy document: %w", err)
		}
		return f.Proxies, nil
	default:
		return nil, errors.New("failed to decode proxy document: expected a mapping or a list")
	}
}

// Load builds a Registry from the document at path.
//
// Any failure (missing file, unreadable file, malformed document) is logged
// and degrades to an empty Registry; the caller proceeds proxy-less.
// An empty path is treated like a missing file.
//
// Descriptors with active: false are dropped silently. Active descriptors
// that fail Validate are dropped with a warning: a missing id or server, a
// scheme other than http, https, socks4, socks5 or socks5h, or a server
// that has no host.
func Load(path string, opts ...Option) *Registry {
	r := NewRegistry(nil, opts...)

	if path == "" {
		r.logger.Info("no proxy file configured, sessions will connect directly")
		return r
	}

	descs, err := LoadFile(path)
	switch {
	case errors.Is(err, ErrConfigNotFound):
		r.logger.Info("proxy file not found, sessions will connect directly", "path", path)
		return r
	case err != nil:
		r.logger.Warn("failed to load proxy file, sessions will connect directly",
			"path", path,
			"error", err,
		)
		return r
	}

	r.reset(descs)
	r.logger.Info("proxy pool loaded",
		"path", path,
		"available", r.Len(),
		"configured", len(descs),
	)
	return r
}

// WithLogger sets the logger used for load and selection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}
