// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gatherlabs/gather/pkg/errors"
)

// Manifest is the on-disk form of a set of agent registrations. It
// lets a deployment declare remote agents in YAML instead of calling
// Register from code.
type Manifest struct {
	Agents []manifestEntry `yaml:"agents"`
}

type manifestEntry struct {
	AgentID     string          `yaml:"agent_id"`
	Description string          `yaml:"description"`
	Endpoint    string          `yaml:"endpoint"`
	Skills      []manifestSkill `yaml:"skills"`
}

type manifestSkill struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Examples    []string `yaml:"examples"`
}

// LoadManifest reads a YAML agent manifest from path.
func LoadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeSchema,
			fmt.Sprintf("read agent manifest %s", path), err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.CodeSchema,
			fmt.Sprintf("parse agent manifest %s", path), err)
	}
	entries := make([]Entry, 0, len(m.Agents))
	for _, a := range m.Agents {
		entry := Entry{
			AgentID:     a.AgentID,
			Description: a.Description,
			Endpoint:    a.Endpoint,
		}
		for _, s := range a.Skills {
			entry.Skills = append(entry.Skills, Skill{
				ID:          s.ID,
				Name:        s.Name,
				Description: s.Description,
				Tags:        s.Tags,
				Examples:    s.Examples,
			})
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RegisterManifest loads the manifest at path and registers every
// entry. Validation failures abort on the first bad entry.
func (d *Directory) RegisterManifest(path string) error {
	entries, err := LoadManifest(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := d.Register(entry); err != nil {
			return err
		}
	}
	return nil
}
