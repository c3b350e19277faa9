// Package capability holds the declarative capability catalog. A
// capability is a named thing the assistant can do, described entirely by
// configuration; code changes are only needed for new handler bindings.
package capability

import (
	"fmt"
	"strings"

	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
	"github.com/kokoro-ai/kokoro/pkg/registry"
)

// Capability is one catalog row with its resolved handler.
type Capability struct {
	Name string

	PrimaryKeywords   []string
	SecondaryKeywords []string
	NegativeKeywords  []string
	IntentHints       []string

	RiskLevel            protocol.RiskLevel
	RequiresConfirmation bool
	Dangerous            bool

	Handler protocol.Handler
}

// GeneralConversation is the fallback capability every catalog must carry.
const GeneralConversation = "general_conversation"

// ConfigurationError reports a catalog row that cannot be registered.
type ConfigurationError struct {
	Capability string
	Message    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("[Capability:Register] %s: %s", e.Capability, e.Message)
}

// Catalog is the registry of enabled capabilities. Swap replaces the
// whole set atomically on config reload.
type Catalog struct {
	reg *registry.BaseRegistry[*Capability]
}

func NewCatalog() *Catalog {
	return &Catalog{reg: registry.NewBaseRegistry[*Capability]()}
}

// Build registers every enabled capability row, resolving handler
// bindings by name. An unresolved binding is a boot failure, not a
// runtime surprise.
func Build(rows map[string]*config.CapabilityConfig, handlers map[string]protocol.Handler) (*Catalog, error) {
	c := NewCatalog()

	for name, row := range rows {
		if row == nil {
			continue
		}
		row.SetDefaults(name)
		if !row.IsEnabled() {
			continue
		}
		if err := row.Validate(); err != nil {
			return nil, &ConfigurationError{Capability: row.Name, Message: err.Error()}
		}

		handler, ok := handlers[row.Handler]
		if !ok {
			return nil, &ConfigurationError{
				Capability: row.Name,
				Message:    fmt.Sprintf("handler binding %q not registered", row.Handler),
			}
		}

		cap := &Capability{
			Name:                 row.Name,
			PrimaryKeywords:      lowerAll(row.PrimaryKeywords),
			SecondaryKeywords:    lowerAll(row.SecondaryKeywords),
			NegativeKeywords:     lowerAll(row.NegativeKeywords),
			IntentHints:          lowerAll(row.IntentHints),
			RiskLevel:            protocol.RiskLevel(row.RiskLevel),
			RequiresConfirmation: row.RequiresConfirmation,
			Dangerous:            row.Dangerous,
			Handler:              handler,
		}
		if err := c.reg.Register(cap.Name, cap); err != nil {
			return nil, &ConfigurationError{Capability: cap.Name, Message: err.Error()}
		}
	}

	if _, ok := c.reg.Get(GeneralConversation); !ok {
		return nil, &ConfigurationError{
			Capability: GeneralConversation,
			Message:    "fallback capability missing from catalog",
		}
	}
	return c, nil
}

// Get looks up a capability by name.
func (c *Catalog) Get(name string) (*Capability, bool) {
	return c.reg.Get(name)
}

// List returns all enabled capabilities.
func (c *Catalog) List() []*Capability {
	return c.reg.List()
}

// Names returns capability names sorted.
func (c *Catalog) Names() []string {
	return c.reg.Names()
}

// Count reports catalog size.
func (c *Catalog) Count() int {
	return c.reg.Count()
}

// Swap replaces the catalog contents with another build. Used by the
// config hot-reload path; lookups during the swap see either the old or
// the new row, never a partial catalog.
func (c *Catalog) Swap(next *Catalog) {
	for _, name := range c.reg.Names() {
		if _, ok := next.reg.Get(name); !ok {
			c.reg.Remove(name) //nolint:errcheck
		}
	}
	for _, cap := range next.reg.List() {
		c.reg.Replace(cap.Name, cap) //nolint:errcheck
	}
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
