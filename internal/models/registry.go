// Package models holds the catalog of upstream models the service can talk
// to, loaded from a yaml file with optional hot reload.
package models

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// AnsweringModel describes a web-search-capable answering model.
type AnsweringModel struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	ContextTokens int    `yaml:"context_tokens" json:"tokens"`
	Thinking      bool   `yaml:"thinking" json:"thinking"`
	WebSearch     bool   `yaml:"web_search" json:"webSearch"`
}

// ReasoningModel describes a decomposition/validation/summary model.
type ReasoningModel struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// ReasoningEffort is sent as-is when non-empty; model families that
	// support it get their highest level in the catalog.
	ReasoningEffort     string `yaml:"reasoning_effort" json:"reasoningEffort,omitempty"`
	SupportsTemperature bool   `yaml:"supports_temperature" json:"-"`
}

// Catalog is the on-disk registry format.
type Catalog struct {
	Answering        []AnsweringModel `yaml:"answering"`
	Reasoning        []ReasoningModel `yaml:"reasoning"`
	DefaultAnswering string           `yaml:"default_answering"`
	DefaultReasoning string           `yaml:"default_reasoning"`
}

// Registry serves model lookups and supports atomic reloads.
type Registry struct {
	mu     sync.RWMutex
	cat    *Catalog
	path   string
	logger *zap.Logger
}

// LoadRegistry reads the catalog file at path. A missing file falls back to
// the built-in defaults so the service can start without deployment config.
func LoadRegistry(path string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{path: path, logger: logger}
	cat, err := readCatalog(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("Model catalog not found, using built-in defaults",
				zap.String("path", path))
			r.cat = defaultCatalog()
			return r, nil
		}
		return nil, err
	}
	r.cat = cat
	return r, nil
}

func readCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	applyCatalogDefaults(&cat)
	return &cat, nil
}

func applyCatalogDefaults(cat *Catalog) {
	if len(cat.Answering) == 0 {
		cat.Answering = defaultCatalog().Answering
	}
	if len(cat.Reasoning) == 0 {
		cat.Reasoning = defaultCatalog().Reasoning
	}
	if cat.DefaultAnswering == "" {
		cat.DefaultAnswering = cat.Answering[0].ID
	}
	if cat.DefaultReasoning == "" {
		cat.DefaultReasoning = cat.Reasoning[0].ID
	}
}

// defaultCatalog mirrors the models the service was built against.
func defaultCatalog() *Catalog {
	return &Catalog{
		DefaultAnswering: "sonar-reasoning-pro",
		DefaultReasoning: "o3-mini",
		Answering: []AnsweringModel{
			{ID: "sonar-deep-research", Name: "Sonar Deep Research", ContextTokens: 128000, Thinking: true, WebSearch: true},
			{ID: "sonar-reasoning-pro", Name: "Sonar Reasoning Pro", ContextTokens: 128000, Thinking: true, WebSearch: true},
			{ID: "sonar-reasoning", Name: "Sonar Reasoning", ContextTokens: 128000, Thinking: true, WebSearch: true},
			{ID: "sonar-pro", Name: "Sonar Pro", ContextTokens: 200000, WebSearch: true},
			{ID: "sonar", Name: "Sonar", ContextTokens: 128000, WebSearch: true},
			{ID: "r1-1776", Name: "R1-1776", ContextTokens: 128000, Thinking: true},
		},
		Reasoning: []ReasoningModel{
			{ID: "o4-mini", Name: "o4-mini (high)", ReasoningEffort: "high"},
			{ID: "o3-mini", Name: "o3-mini (high)", ReasoningEffort: "high"},
			{ID: "o3", Name: "o3 (high)", ReasoningEffort: "high"},
			{ID: "o1-mini", Name: "o1-mini"},
			{ID: "o1", Name: "o1"},
			{ID: "gpt-4o", Name: "GPT-4o", SupportsTemperature: true},
		},
	}
}

// Reload re-reads the catalog file and swaps it in atomically.
func (r *Registry) Reload() error {
	cat, err := readCatalog(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cat = cat
	r.mu.Unlock()
	r.logger.Info("Model catalog reloaded",
		zap.String("path", r.path),
		zap.Int("answering", len(cat.Answering)),
		zap.Int("reasoning", len(cat.Reasoning)))
	return nil
}

// AnsweringModels returns the answering catalog.
func (r *Registry) AnsweringModels() []AnsweringModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AnsweringModel, len(r.cat.Answering))
	copy(out, r.cat.Answering)
	return out
}

// ReasoningModels returns the reasoning catalog.
func (r *Registry) ReasoningModels() []ReasoningModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ReasoningModel, len(r.cat.Reasoning))
	copy(out, r.cat.Reasoning)
	return out
}

// Reasoning looks up a reasoning model by id.
func (r *Registry) Reasoning(id string) (ReasoningModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.cat.Reasoning {
		if m.ID == id {
			return m, true
		}
	}
	return ReasoningModel{}, false
}

// Answering looks up an answering model by id.
func (r *Registry) Answering(id string) (AnsweringModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.cat.Answering {
		if m.ID == id {
			return m, true
		}
	}
	return AnsweringModel{}, false
}

// DefaultAnswering returns the default answering model id.
func (r *Registry) DefaultAnswering() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cat.DefaultAnswering
}

// DefaultReasoning returns the default reasoning model id.
func (r *Registry) DefaultReasoning() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cat.DefaultReasoning
}
