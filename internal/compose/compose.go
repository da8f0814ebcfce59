// Package compose models the stack descriptor a target instance runs from.
// The core never generates descriptors; it reads image versions out of them
// and rewrites tags in place during updates.
package compose

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bnema/stackops/internal/domain"
)

var ErrCircularDependency = errors.New("circular dependency detected in services")

// File is a parsed docker-compose descriptor. Only the fields the core
// reads or rewrites are modeled; everything else round-trips untouched
// through the raw document.
type File struct {
	Services map[string]Service `yaml:"services"`
	Volumes  map[string]any     `yaml:"volumes,omitempty"`

	raw *yaml.Node
}

// Service is a service definition in the descriptor.
type Service struct {
	Image     string `yaml:"image,omitempty"`
	DependsOn any    `yaml:"depends_on,omitempty"`
}

// Load parses a descriptor from disk. The raw document is retained so a
// later Rewrite preserves formatting-irrelevant content.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}
	return Parse(data)
}

// Parse parses a descriptor from bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	var raw yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	f.raw = &raw
	return &f, nil
}

// ServiceNames returns all service names, sorted.
func (f *File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Images returns a map of service name to full image reference.
func (f *File) Images() domain.ImageMap {
	images := make(domain.ImageMap, len(f.Services))
	for name, svc := range f.Services {
		if svc.Image != "" {
			images[name] = svc.Image
		}
	}
	return images
}

// Versions extracts the version tag of every service's image.
func (f *File) Versions() domain.VersionMap {
	versions := make(domain.VersionMap, len(f.Services))
	for name, svc := range f.Services {
		if tag := ImageTag(svc.Image); tag != "" {
			versions[name] = tag
		}
	}
	return versions
}

// ImageTag returns the tag of an image reference, without any digest.
func ImageTag(image string) string {
	if image == "" {
		return ""
	}
	if i := strings.Index(image, "@"); i >= 0 {
		image = image[:i]
	}
	slash := strings.LastIndex(image, "/")
	colon := strings.LastIndex(image, ":")
	if colon <= slash {
		return ""
	}
	return image[colon+1:]
}

// ReplaceTag swaps the tag of an image reference, preserving the
// repository. A pinned digest is dropped; it would no longer match the
// new tag.
func ReplaceTag(image, tag string) string {
	if i := strings.Index(image, "@"); i >= 0 {
		image = image[:i]
	}
	slash := strings.LastIndex(image, "/")
	colon := strings.LastIndex(image, ":")
	if colon > slash {
		image = image[:colon]
	}
	return image + ":" + tag
}

// DependencyOrder returns the service names in dependency order, foundation
// services first. Kahn's algorithm with sorted queues for stable output.
func (f *File) DependencyOrder() ([]string, error) {
	// Only dependencies defined in this file count: a service depending
	// solely on externally managed ones is still a valid root.
	deps := make(map[string][]string, len(f.Services))
	for name, svc := range f.Services {
		var inFile []string
		for _, dep := range extractDependencies(svc.DependsOn) {
			if _, ok := f.Services[dep]; ok {
				inFile = append(inFile, dep)
			}
		}
		deps[name] = inFile
	}

	visited := make(map[string]bool, len(deps))
	queue := make([]string, 0, len(deps))
	for name := range deps {
		if len(deps[name]) == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		svc := queue[0]
		queue = queue[1:]
		if visited[svc] {
			continue
		}
		visited[svc] = true
		order = append(order, svc)

		for name, depList := range deps {
			if visited[name] {
				continue
			}
			satisfied := true
			for _, dep := range depList {
				if !visited[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				queue = append(queue, name)
			}
		}
		sort.Strings(queue)
	}

	if len(order) != len(deps) {
		return nil, ErrCircularDependency
	}
	return order, nil
}

func extractDependencies(dependsOn any) []string {
	switch v := dependsOn.(type) {
	case []any:
		deps := make([]string, 0, len(v))
		for _, d := range v {
			if s, ok := d.(string); ok {
				deps = append(deps, s)
			}
		}
		return deps
	case map[string]any:
		deps := make([]string, 0, len(v))
		for name := range v {
			deps = append(deps, name)
		}
		sort.Strings(deps)
		return deps
	default:
		return nil
	}
}

// Rewrite substitutes new version tags for the named services in the raw
// document and returns the rewritten descriptor bytes. Only image values
// change; the rest of the document is preserved.
func (f *File) Rewrite(updates []domain.ServiceUpdate) ([]byte, error) {
	if f.raw == nil || len(f.raw.Content) == 0 {
		return nil, fmt.Errorf("%w: compose document not loaded", domain.ErrInvalidConfig)
	}

	byService := make(map[string]string, len(updates))
	for _, u := range updates {
		byService[u.Service] = u.To
	}

	root := f.raw.Content[0]
	services := mappingValue(root, "services")
	if services == nil {
		return nil, fmt.Errorf("%w: descriptor has no services section", domain.ErrInvalidConfig)
	}

	for i := 0; i+1 < len(services.Content); i += 2 {
		name := services.Content[i].Value
		tag, wanted := byService[name]
		if !wanted {
			continue
		}
		imageNode := mappingValue(services.Content[i+1], "image")
		if imageNode == nil {
			continue
		}
		imageNode.Value = ReplaceTag(imageNode.Value, tag)
		imageNode.Tag = "!!str"
	}

	return yaml.Marshal(f.raw)
}

// WriteFile rewrites the descriptor on disk.
func (f *File) WriteFile(path string, updates []domain.ServiceUpdate) error {
	data, err := f.Rewrite(updates)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write compose file: %w", err)
	}
	return nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
