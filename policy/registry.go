// Copyright 2025 Vantage
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package policy holds the authority/INT policy registry: an immutable
// configuration object loaded once at startup and injected into every
// component. Reload constructs a new Registry and atomically swaps the
// active handle; readers never observe a partially updated registry.
package policy

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// ConfigError is a policy configuration defect. It always fails closed:
// a request referencing broken configuration is blocked, never silently
// allowed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("policy configuration error: %s", e.Reason)
}

// ConfigFile is the on-disk policy configuration following the
// apiVersion/kind pattern.
type ConfigFile struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   ConfigMeta `yaml:"metadata"`
	Spec       ConfigSpec `yaml:"spec"`
}

// ConfigMeta identifies a policy configuration revision.
type ConfigMeta struct {
	Name     string `yaml:"name"`
	Revision string `yaml:"revision"`
}

// ConfigSpec is the declarative policy/template data.
type ConfigSpec struct {
	Authorities []Authority     `yaml:"authorities"`
	Rules       []GuardrailRule `yaml:"rules"`
	Templates   []Template      `yaml:"templates"`
	Thresholds  Thresholds      `yaml:"thresholds"`
}

// Registry is the read-only lookup over authorities, guardrail rules, and
// report templates. Instances are immutable after construction.
type Registry struct {
	revision    string
	authorities map[string]*Authority
	rules       []GuardrailRule
	templates   []Template
	thresholds  Thresholds
}

// Load parses and validates a policy configuration file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	return Parse(data)
}

// Parse builds a Registry from raw yaml configuration.
func Parse(data []byte) (*Registry, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("parse yaml: %v", err)}
	}
	if file.Kind != "" && file.Kind != "PolicyConfig" {
		return nil, &ConfigError{Reason: fmt.Sprintf("unexpected kind %q", file.Kind)}
	}

	r := &Registry{
		revision:    file.Metadata.Revision,
		authorities: make(map[string]*Authority, len(file.Spec.Authorities)),
		rules:       file.Spec.Rules,
		templates:   file.Spec.Templates,
		thresholds:  file.Spec.Thresholds,
	}

	known := make(map[INTLane]struct{}, len(KnownLanes))
	for _, l := range KnownLanes {
		known[l] = struct{}{}
	}

	for i := range file.Spec.Authorities {
		a := file.Spec.Authorities[i]
		if a.ID == "" {
			return nil, &ConfigError{Reason: "authority with empty id"}
		}
		if _, dup := r.authorities[a.ID]; dup {
			return nil, &ConfigError{Reason: fmt.Sprintf("duplicate authority %q", a.ID)}
		}
		for _, l := range a.AllowedLanes {
			if _, ok := known[l]; !ok {
				return nil, &ConfigError{Reason: fmt.Sprintf("authority %q: unknown lane %q", a.ID, l)}
			}
		}
		a.index()
		r.authorities[a.ID] = &a
	}

	for _, rule := range r.rules {
		if rule.ID == "" || rule.Category == "" {
			return nil, &ConfigError{Reason: fmt.Sprintf("rule %q missing id or category", rule.Name)}
		}
		if len(rule.Triggers) == 0 {
			return nil, &ConfigError{Reason: fmt.Sprintf("rule %q has no triggers", rule.ID)}
		}
		for _, trig := range rule.Triggers {
			if len(trig.Phrases) == 0 {
				return nil, &ConfigError{Reason: fmt.Sprintf("rule %q has an empty trigger", rule.ID)}
			}
		}
	}

	for _, t := range r.templates {
		if t.ID == "" {
			return nil, &ConfigError{Reason: "template with empty id"}
		}
		for _, id := range t.AllowedAuthorities {
			if _, ok := r.authorities[id]; !ok {
				return nil, &ConfigError{Reason: fmt.Sprintf("template %q references unknown authority %q", t.ID, id)}
			}
		}
		if len(t.Sections) == 0 {
			return nil, &ConfigError{Reason: fmt.Sprintf("template %q has no sections", t.ID)}
		}
	}

	if r.thresholds.QualityMin == 0 {
		r.thresholds.QualityMin = 0.7
	}
	if r.thresholds.NumericTolerance == 0 {
		r.thresholds.NumericTolerance = 0.05
	}
	if r.thresholds.TimeBucketHours == 0 {
		r.thresholds.TimeBucketHours = 24
	}

	return r, nil
}

// Revision returns the configuration revision string, if declared.
func (r *Registry) Revision() string {
	return r.revision
}

// Authority looks up an authority by id. An unknown id is a configuration
// defect and returns a ConfigError so callers fail closed.
func (r *Registry) Authority(id string) (*Authority, error) {
	a, ok := r.authorities[id]
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown authority %q", id)}
	}
	return a, nil
}

// AuthorityIDs returns all configured authority ids in sorted order.
func (r *Registry) AuthorityIDs() []string {
	ids := make([]string, 0, len(r.authorities))
	for id := range r.authorities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AuthorityForAction finds the first configured authority (by sorted id)
// that permits the given action category. Used to name the correct-lane
// authority in guardrail remediation text.
func (r *Registry) AuthorityForAction(c ActionCategory) *Authority {
	for _, id := range r.AuthorityIDs() {
		a := r.authorities[id]
		if a.PermitsAction(c) {
			return a
		}
	}
	return nil
}

// Rules returns the guardrail rules in declaration order.
func (r *Registry) Rules() []GuardrailRule {
	return r.rules
}

// Templates returns the full template catalog.
func (r *Registry) Templates() []Template {
	return r.templates
}

// Template looks up a template by id.
func (r *Registry) Template(id string) (*Template, error) {
	for i := range r.templates {
		if r.templates[i].ID == id {
			return &r.templates[i], nil
		}
	}
	return nil, &ConfigError{Reason: fmt.Sprintf("unknown template %q", id)}
}

// Thresholds returns the gap-analysis limits.
func (r *Registry) Thresholds() Thresholds {
	return r.thresholds
}

// Handle is the atomically swappable pointer to the active Registry.
// All components read through a Handle so a reload is a single pointer
// swap with no partially updated state.
type Handle struct {
	ptr atomic.Pointer[Registry]
}

// NewHandle creates a handle pointing at the given registry.
func NewHandle(r *Registry) *Handle {
	h := &Handle{}
	h.ptr.Store(r)
	return h
}

// Current returns the active registry.
func (h *Handle) Current() *Registry {
	return h.ptr.Load()
}

// Swap installs a new registry and returns the previous one.
func (h *Handle) Swap(r *Registry) *Registry {
	return h.ptr.Swap(r)
}

// Reload loads the configuration file and swaps it in atomically.
func (h *Handle) Reload(path string) error {
	r, err := Load(path)
	if err != nil {
		return err
	}
	h.Swap(r)
	return nil
}
