package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CheckpointFile is the on-disk shape of the checkpoint allow-list.
//
//	checkpoints:
//	  - name: air_filter
//	    description: Intake filter housing
type CheckpointFile struct {
	Checkpoints []CheckpointEntry `yaml:"checkpoints"`
}

// CheckpointEntry describes one allowed checkpoint.
type CheckpointEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// CheckpointAllowList answers whether a checkpoint name is known.
// The zero value (and a nil pointer) allows every checkpoint.
type CheckpointAllowList struct {
	names map[string]struct{}
}

// NewCheckpointAllowList builds an allow-list from exact names.
func NewCheckpointAllowList(names ...string) *CheckpointAllowList {
	list := &CheckpointAllowList{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			list.names[name] = struct{}{}
		}
	}
	return list
}

// LoadCheckpointAllowList reads a YAML allow-list. An empty path yields an
// open list that accepts any checkpoint.
func LoadCheckpointAllowList(path string) (*CheckpointAllowList, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return &CheckpointAllowList{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint allow-list: %w", err)
	}
	var file CheckpointFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode checkpoint allow-list: %w", err)
	}
	names := make([]string, 0, len(file.Checkpoints))
	for i, entry := range file.Checkpoints {
		if strings.TrimSpace(entry.Name) == "" {
			return nil, fmt.Errorf("checkpoint allow-list entry %d has no name", i)
		}
		names = append(names, entry.Name)
	}
	return NewCheckpointAllowList(names...), nil
}

// Allows reports whether name may be used. Matching is case-sensitive.
func (l *CheckpointAllowList) Allows(name string) bool {
	if l == nil || l.names == nil {
		return true
	}
	_, ok := l.names[name]
	return ok
}

// Len returns the number of explicitly allowed checkpoints.
func (l *CheckpointAllowList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.names)
}
