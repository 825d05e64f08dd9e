// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and models.
package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// Info describes one model offered by the completion provider.
type Info struct {
	// ID is the model identifier used in API calls
	ID string `json:"id" toml:"id"`

	// Name is the human-readable display name
	Name string `json:"name" toml:"name"`
}

// String renders the model as "Name (ID)".
func (i Info) String() string {
	return fmt.Sprintf("%s (%s)", i.Name, i.ID)
}

// DefaultModelID is the model new sessions start with.
const DefaultModelID = "mistralai/Mistral-7B-Instruct-v0.2"

// DefaultModels is the built-in model list, in resolution order.
var DefaultModels = []Info{
	{ID: "mistralai/Mistral-7B-Instruct-v0.2", Name: "Mistral 7B (Balanced)"},
	{ID: "openchat/openchat-7b", Name: "OpenChat 7B (General)"},
	{ID: "neversleep/llama-3.1-lumimaid-70b", Name: "Llama 3.1 Lumimaid 70B (Advanced)"},
	{ID: "microsoft/phi-3-medium-128k-instruct", Name: "Phi-3 Medium (Efficient)"},
	{ID: "google/gemma-7b-it", Name: "Gemma 7B (Lightweight)"},
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// Registry is an immutable, ordered set of models. It is safe for concurrent
// use because nothing mutates it after construction.
type Registry struct {
	models []Info
	byID   map[string]int
}

// NewRegistry builds a registry from models, keeping their order. Entries
// with an empty ID or a duplicate ID are rejected.
func NewRegistry(models []Info) (*Registry, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("model registry: no models configured")
	}

	r := &Registry{
		models: make([]Info, 0, len(models)),
		byID:   make(map[string]int, len(models)),
	}
	for i, m := range models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return nil, fmt.Errorf("model registry: entry %d has an empty id", i)
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("model registry: duplicate id %q", m.ID)
		}
		if strings.TrimSpace(m.Name) == "" {
			m.Name = m.ID
		}
		r.byID[m.ID] = len(r.models)
		r.models = append(r.models, m)
	}
	return r, nil
}

// DefaultRegistry returns a registry holding DefaultModels.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultModels)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve maps a user-supplied query to a model. The query matches when it
// is a case-insensitive substring of the model ID or display name; the first
// match in registry order wins. An empty query never matches.
func (r *Registry) Resolve(query string) (Info, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Info{}, false
	}
	for _, m := range r.models {
		if strings.Contains(strings.ToLower(m.ID), q) || strings.Contains(strings.ToLower(m.Name), q) {
			return m, true
		}
	}
	return Info{}, false
}

// Get returns the model with exactly the given ID.
func (r *Registry) Get(id string) (Info, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Info{}, false
	}
	return r.models[i], true
}

// Contains reports whether id is a registered model ID.
func (r *Registry) Contains(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns the models in registry order.
func (r *Registry) List() []Info {
	out := make([]Info, len(r.models))
	copy(out, r.models)
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	return len(r.models)
}

// FormatList renders the registry as "Name (ID), Name (ID), ...".
func (r *Registry) FormatList() string {
	parts := make([]string, 0, len(r.models))
	for _, m := range r.models {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ", ")
}
