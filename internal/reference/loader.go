// Package reference loads the read-only reference tables that drive exercise
// progression (tracks, step policies, action outcomes, the action catalog,
// scenarios and skip rules) and serves them from a registry with atomic
// pointer swap.
package reference

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/drill/model"
)

// Tables is the content of one reference file. Every table is optional; a
// deployment may split tables across files.
type Tables struct {
	Tracks         []model.Track         `yaml:"tracks"`
	StepPolicies   []model.StepPolicy    `yaml:"step_policies"`
	ActionOutcomes []model.ActionOutcome `yaml:"action_outcomes"`
	Actions        []model.ActionSpec    `yaml:"actions"`
	Scenarios      []model.Scenario      `yaml:"scenarios"`
	SkipRules      []model.SkipRule      `yaml:"skip_rules"`

	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// Loader scans directories for YAML reference files.
type Loader struct{}

// NewLoader creates a new reference Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files.
func (l *Loader) LoadAll(directories []string) ([]Tables, error) {
	var sets []Tables

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			t, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			sets = append(sets, t)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return sets, nil
}

// LoadFile parses a single reference file and records its checksum.
func (l *Loader) LoadFile(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tables{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	t.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	t.SourceFile = path
	return t, nil
}
