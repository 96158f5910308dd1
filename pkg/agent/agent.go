// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 The Conductor Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agent holds the registry of spawnable agent definitions and
// the access rules the spawner enforces.
//
// Agents come in three flavors:
//   - public agents, spawnable by anyone
//   - internal agents, spawnable only by the coordinator
//   - native runtime agents, unknown to the registry and passed through
package agent

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a registered (non-native) agent name
// does not resolve.
var ErrNotFound = errors.New("agent not found")

// Definition describes a spawnable agent.
type Definition struct {
	// Name is the unique agent name.
	Name string `yaml:"name" json:"name" mapstructure:"name"`

	// Description of what the agent does.
	Description string `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`

	// Public agents may be invoked by any caller. Internal (non-public)
	// agents may only be invoked by the coordinator.
	Public bool `yaml:"public,omitempty" json:"public,omitempty" mapstructure:"public"`

	// RequiresContext marks agents that receive the full handoff context
	// block (decisions, plan, affected files, relevant learnings).
	RequiresContext bool `yaml:"requires_context,omitempty" json:"requires_context,omitempty" mapstructure:"requires_context"`

	// Complexity seeds the supervised task's complexity.
	Complexity string `yaml:"complexity,omitempty" json:"complexity,omitempty" mapstructure:"complexity"`

	// Timeout seeds the supervised task's timeout.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" mapstructure:"timeout"`
}

// Registry indexes agent definitions by name.
type Registry struct {
	mu          sync.RWMutex
	agents      map[string]Definition
	coordinator string
	allowNative bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNativePassthrough toggles resolution of unregistered names as
// native runtime agents. Off means unknown names are ErrNotFound.
func WithNativePassthrough(enabled bool) RegistryOption {
	return func(r *Registry) { r.allowNative = enabled }
}

// NewRegistry creates a registry. coordinator names the single agent
// allowed to invoke internal agents. Native pass-through is on unless
// an option disables it.
func NewRegistry(coordinator string, opts ...RegistryOption) *Registry {
	r := &Registry{
		agents:      make(map[string]Definition),
		coordinator: coordinator,
		allowNative: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a definition. Duplicate names are rejected.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[def.Name]; exists {
		return fmt.Errorf("agent '%s' already registered", def.Name)
	}
	r.agents[def.Name] = def
	return nil
}

// Resolve returns the definition for name. Unknown names resolve as
// native runtime agents: public pass-through definitions.
func (r *Registry) Resolve(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.agents[name]
	return def, ok
}

// Lookup resolves name to a spawnable definition. Unregistered names
// become native pass-through definitions when pass-through is enabled,
// and ErrNotFound otherwise.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if def, ok := r.agents[name]; ok {
		return def, nil
	}
	if r.allowNative {
		return Definition{Name: name, Public: true}, nil
	}
	return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Coordinator returns the configured coordinator agent name.
func (r *Registry) Coordinator() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.coordinator
}

// CanInvoke reports whether caller may spawn the named agent. Native
// agents (not registered) are a pass-through. Internal agents require
// the caller to be the coordinator.
func (r *Registry) CanInvoke(caller, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.agents[name]
	if !ok {
		return true
	}
	if def.Public {
		return true
	}
	return caller == r.coordinator
}

// List returns all registered definitions.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.agents))
	for _, def := range r.agents {
		out = append(out, def)
	}
	return out
}

// Count returns the number of registered definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
