// Package catalog holds the closed sets of research engines and platform tools
// a request may name.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one immutable catalog record.
type Entry struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Catalog is the validated engine and tool catalog. It is built once at
// startup and shared read-only between requests.
type Catalog struct {
	engines []Entry
	tools   []Entry
	engine  map[string]Entry
	tool    map[string]Entry
}

// InvalidEngineError reports an engine id outside the catalog.
type InvalidEngineError struct {
	ID    string
	Valid []string
}

func (e *InvalidEngineError) Error() string {
	return fmt.Sprintf("Invalid engine '%s'. Valid engines: %s", e.ID, strings.Join(e.Valid, ", "))
}

var defaultEngines = []Entry{
	{ID: "tim-small-preview", Name: "TIM Small Preview", Description: "Fast, lightweight engine"},
	{ID: "tim-gpt", Name: "TIM GPT", Description: "GPT-powered engine"},
	{ID: "tim-large", Name: "TIM Large", Description: "Most capable engine"},
}

var defaultTools = []Entry{
	{ID: "web_search", Name: "Web Search", Description: "Search the web for information"},
	{ID: "webpage_understanding", Name: "Webpage Understanding", Description: "Read and understand web pages"},
	{ID: "exa_search", Name: "Exa Search", Description: "Semantic search engine"},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, _ := New(defaultEngines, defaultTools)
	return c
}

// New builds a catalog, rejecting empty or duplicate ids.
func New(engines, tools []Entry) (*Catalog, error) {
	if len(engines) == 0 {
		return nil, errors.New("catalog: at least one engine is required")
	}
	c := &Catalog{
		engines: append([]Entry(nil), engines...),
		tools:   append([]Entry(nil), tools...),
		engine:  make(map[string]Entry, len(engines)),
		tool:    make(map[string]Entry, len(tools)),
	}
	for _, e := range c.engines {
		if strings.TrimSpace(e.ID) == "" {
			return nil, errors.New("catalog: engine id is required")
		}
		if _, dup := c.engine[e.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate engine %q", e.ID)
		}
		c.engine[e.ID] = e
	}
	for _, t := range c.tools {
		if strings.TrimSpace(t.ID) == "" {
			return nil, errors.New("catalog: tool id is required")
		}
		if _, dup := c.tool[t.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate tool %q", t.ID)
		}
		c.tool[t.ID] = t
	}
	return c, nil
}

type fileFormat struct {
	Engines []Entry `yaml:"engines"`
	Tools   []Entry `yaml:"tools"`
}

// Load reads a YAML catalog file. A section missing from the file keeps the
// built-in entries.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(f.Engines) == 0 {
		f.Engines = defaultEngines
	}
	if f.Tools == nil {
		f.Tools = defaultTools
	}
	return New(f.Engines, f.Tools)
}

// Engines returns a copy of the engine entries in catalog order.
func (c *Catalog) Engines() []Entry {
	return append([]Entry(nil), c.engines...)
}

// Tools returns a copy of the tool entries in catalog order.
func (c *Catalog) Tools() []Entry {
	return append([]Entry(nil), c.tools...)
}

// EngineIDs lists engine ids in catalog order.
func (c *Catalog) EngineIDs() []string {
	ids := make([]string, 0, len(c.engines))
	for _, e := range c.engines {
		ids = append(ids, e.ID)
	}
	return ids
}

// ToolIDs lists tool ids in catalog order.
func (c *Catalog) ToolIDs() []string {
	ids := make([]string, 0, len(c.tools))
	for _, t := range c.tools {
		ids = append(ids, t.ID)
	}
	return ids
}

// ValidateEngine returns an *InvalidEngineError when id is not in the catalog.
func (c *Catalog) ValidateEngine(id string) error {
	if _, ok := c.engine[id]; ok {
		return nil
	}
	return &InvalidEngineError{ID: id, Valid: c.EngineIDs()}
}

// FilterTools keeps the known ids, in request order without duplicates, and
// reports the rest. A nil request selects every tool.
func (c *Catalog) FilterTools(ids []string) (valid, dropped []string) {
	if ids == nil {
		return c.ToolIDs(), nil
	}
	seen := make(map[string]bool, len(ids))
	valid = make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := c.tool[id]; ok {
			valid = append(valid, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	return valid, dropped
}

// MarshalYAML renders the catalog in the same shape Load accepts.
func (c *Catalog) MarshalYAML() (any, error) {
	return fileFormat{Engines: c.engines, Tools: c.tools}, nil
}
