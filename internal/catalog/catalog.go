// Package catalog holds the prompt catalog: the five customer-success agent
// definitions and the chat models offered in the model picker.
//
// Definitions come from three layers, applied in order:
//
//  1. Built-in defaults embedded from defaults.yaml.
//  2. An optional YAML override file (CATALOG_FILE) read at startup.
//  3. Operator edits persisted through an OverrideStore and restored on boot.
//
// The set of agent identifiers is fixed. Overrides may rewrite model, prompt,
// name, description and the enabled flag, but never add or remove agents.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	// ErrUnknownAgent is returned for identifiers outside the fixed set.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrGeneralAlwaysEnabled rejects attempts to disable the fallback agent.
	ErrGeneralAlwaysEnabled = errors.New("the general agent must remain enabled")

	// ErrInvalidPatch rejects edits that would leave a definition unusable.
	ErrInvalidPatch = errors.New("invalid agent patch")
)

// OverrideStore persists operator edits to agent definitions.
type OverrideStore interface {
	ListAgentOverrides(ctx context.Context) ([]models.AgentDefinition, error)
	SaveAgentOverride(ctx context.Context, def *models.AgentDefinition) error
	DeleteAgentOverride(ctx context.Context, id models.AgentID) error
}

type catalogFile struct {
	Agents     []models.AgentDefinition `yaml:"agents"`
	ChatModels []models.ChatModel       `yaml:"chatModels"`
}

// Catalog is a thread-safe registry of agent definitions.
type Catalog struct {
	mu         sync.RWMutex
	agents     map[models.AgentID]models.AgentDefinition
	builtin    map[models.AgentID]models.AgentDefinition
	chatModels []models.ChatModel

	overrides OverrideStore
}

// New creates a catalog seeded with the built-in definitions.
// overrides may be nil, in which case edits live only in memory.
func New(overrides OverrideStore) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(defaultsYAML, &f); err != nil {
		return nil, fmt.Errorf("parse built-in catalog: %w", err)
	}
	if err := checkComplete(f.Agents); err != nil {
		return nil, fmt.Errorf("built-in catalog: %w", err)
	}

	c := &Catalog{
		agents:     make(map[models.AgentID]models.AgentDefinition, len(f.Agents)),
		builtin:    make(map[models.AgentID]models.AgentDefinition, len(f.Agents)),
		chatModels: f.ChatModels,
		overrides:  overrides,
	}
	for _, def := range f.Agents {
		c.agents[def.ID] = def
		c.builtin[def.ID] = def
	}
	return c, nil
}

// LoadFile applies a YAML override file on top of the built-in defaults.
// Entries replace the built-in definition with the same id; omitted fields
// keep their built-in value.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog file: %w", err)
	}

	var raw struct {
		Agents []struct {
			ID           models.AgentID `yaml:"id"`
			Name         *string        `yaml:"name"`
			Description  *string        `yaml:"description"`
			Model        *string        `yaml:"model"`
			SystemPrompt *string        `yaml:"systemPrompt"`
			Enabled      *bool          `yaml:"enabled"`
		} `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Every entry is resolved before any is applied, so a bad file leaves
	// the catalog untouched.
	staged := make(map[models.AgentID]models.AgentDefinition, len(raw.Agents))
	for _, entry := range raw.Agents {
		def, ok := staged[entry.ID]
		if !ok {
			if def, ok = c.builtin[entry.ID]; !ok {
				return fmt.Errorf("catalog file %s: %w: %q", path, ErrUnknownAgent, entry.ID)
			}
		}
		if entry.Name != nil {
			def.Name = *entry.Name
		}
		if entry.Description != nil {
			def.Description = *entry.Description
		}
		if entry.Model != nil {
			def.Model = *entry.Model
		}
		if entry.SystemPrompt != nil {
			def.SystemPrompt = *entry.SystemPrompt
		}
		if entry.Enabled != nil {
			def.Enabled = *entry.Enabled
		}
		if def.ID == models.AgentGeneral {
			def.Enabled = true
		}
		staged[def.ID] = def
	}
	for id, def := range staged {
		c.builtin[id] = def
		c.agents[id] = def
	}

	log.Info().Str("file", path).Int("agents", len(raw.Agents)).Msg("Catalog overrides loaded")
	return nil
}

// Restore applies operator edits persisted in the override store.
func (c *Catalog) Restore(ctx context.Context) error {
	if c.overrides == nil {
		return nil
	}
	saved, err := c.overrides.ListAgentOverrides(ctx)
	if err != nil {
		return fmt.Errorf("list agent overrides: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, def := range saved {
		if _, ok := c.builtin[def.ID]; !ok {
			log.Warn().Str("agent", string(def.ID)).Msg("Ignoring override for unknown agent")
			continue
		}
		if def.ID == models.AgentGeneral {
			def.Enabled = true
		}
		c.agents[def.ID] = def
	}
	if len(saved) > 0 {
		log.Info().Int("count", len(saved)).Msg("Agent overrides restored")
	}
	return nil
}

// Lookup returns the definition for id. Disabled agents are still returned.
func (c *Catalog) Lookup(id models.AgentID) (models.AgentDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.agents[id]
	if !ok {
		return models.AgentDefinition{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return def, nil
}

// List returns every definition in declaration order.
func (c *Catalog) List() []models.AgentDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.AgentDefinition, 0, len(models.AgentIDs))
	for _, id := range models.AgentIDs {
		out = append(out, c.agents[id])
	}
	return out
}

// Update applies an operator edit and persists it.
func (c *Catalog) Update(ctx context.Context, id models.AgentID, patch models.AgentPatch) (models.AgentDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, ok := c.agents[id]
	if !ok {
		return models.AgentDefinition{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}

	if patch.Enabled != nil {
		if id == models.AgentGeneral && !*patch.Enabled {
			return models.AgentDefinition{}, ErrGeneralAlwaysEnabled
		}
		def.Enabled = *patch.Enabled
	}
	if patch.Model != nil {
		model := strings.TrimSpace(*patch.Model)
		if model == "" {
			return models.AgentDefinition{}, fmt.Errorf("%w: model must not be empty", ErrInvalidPatch)
		}
		def.Model = model
	}
	if patch.SystemPrompt != nil {
		if strings.TrimSpace(*patch.SystemPrompt) == "" {
			return models.AgentDefinition{}, fmt.Errorf("%w: system prompt must not be empty", ErrInvalidPatch)
		}
		def.SystemPrompt = *patch.SystemPrompt
	}
	def.UpdatedAt = time.Now().UTC()

	if c.overrides != nil {
		if err := c.overrides.SaveAgentOverride(ctx, &def); err != nil {
			return models.AgentDefinition{}, fmt.Errorf("persist agent %s: %w", id, err)
		}
	}
	c.agents[id] = def

	log.Info().
		Str("agent", string(id)).
		Str("model", def.Model).
		Bool("enabled", def.Enabled).
		Msg("Agent definition updated")
	return def, nil
}

// Reset discards operator edits for id and restores the startup definition.
func (c *Catalog) Reset(ctx context.Context, id models.AgentID) (models.AgentDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, ok := c.builtin[id]
	if !ok {
		return models.AgentDefinition{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	if c.overrides != nil {
		if err := c.overrides.DeleteAgentOverride(ctx, id); err != nil {
			return models.AgentDefinition{}, fmt.Errorf("reset agent %s: %w", id, err)
		}
	}
	c.agents[id] = def
	return def, nil
}

// ChatModels returns the model picker entries in display order.
func (c *Catalog) ChatModels() []models.ChatModel {
	out := make([]models.ChatModel, len(c.chatModels))
	copy(out, c.chatModels)
	return out
}

// ChatModel looks up a picker entry by id.
func (c *Catalog) ChatModel(id string) (models.ChatModel, bool) {
	for _, m := range c.chatModels {
		if m.ID == id {
			return m, true
		}
	}
	return models.ChatModel{}, false
}

func checkComplete(defs []models.AgentDefinition) error {
	seen := make(map[models.AgentID]bool, len(defs))
	for i, def := range defs {
		if !def.ID.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownAgent, def.ID)
		}
		if seen[def.ID] {
			return fmt.Errorf("agent %q declared twice", def.ID)
		}
		if i >= len(models.AgentIDs) || def.ID != models.AgentIDs[i] {
			return fmt.Errorf("agent %q out of declaration order", def.ID)
		}
		seen[def.ID] = true
	}
	if len(seen) != len(models.AgentIDs) {
		return fmt.Errorf("expected %d agents, found %d", len(models.AgentIDs), len(seen))
	}
	return nil
}
