package timeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteTimeline writes the contract as JSON, or YAML when path ends in .yaml/.yml
func WriteTimeline(entries []Entry, path string) error {
	if entries == nil {
		entries = []Entry{}
	}
	return Save(path, entries)
}

// ReadTimeline reads and checks a contract written by WriteTimeline
func ReadTimeline(path string) ([]Entry, error) {
	var entries []Entry
	if err := Load(path, &entries); err != nil {
		return nil, err
	}
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("timeline %s: entry %d has no id", path, i)
		}
		if !(e.End > e.Start) {
			return nil, fmt.Errorf("timeline %s: entry %q has invalid range [%.3f, %.3f]", path, e.ID, e.Start, e.End)
		}
	}
	return entries, nil
}

// ReadWords reads a word list contract
func ReadWords(path string) ([]Word, error) {
	var words []Word
	if err := Load(path, &words); err != nil {
		return nil, err
	}
	return words, nil
}

// ReadPlan reads a planning input and normalizes it
func ReadPlan(path string) (*Plan, error) {
	var plan Plan
	if err := Load(path, &plan); err != nil {
		return nil, err
	}
	plan.Normalize()
	return &plan, nil
}

// Load decodes a JSON or YAML file into v, chosen by extension
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, v)
	} else {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Save encodes v as JSON or YAML, chosen by extension
func Save(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
