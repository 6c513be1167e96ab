// Package arxiv is the academic-search collaborator: the function tool the
// platform is told about, the HTTP service that tool points at, and a client
// for that service.
package arxiv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"research-analyzer/internal/platform"
)

const (
	// ToolName is the function name the platform calls.
	ToolName = "arxiv_search"

	DefaultMaxResults = 10
	MaxResultsLimit   = 50

	toolTimeoutSeconds = 30
	schemaURL          = "arxiv_search.json"
)

const toolDescription = "Search ArXiv for academic papers and research articles. Use this for finding peer-reviewed scientific publications, preprints, and academic research."

var parameterSchema = []byte(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query for academic papers"},
    "max_results": {"type": "integer", "default": 10}
  },
  "required": ["query"]
}`)

// ParameterSchema returns the JSON schema of the tool's parameters.
func ParameterSchema() json.RawMessage {
	out := make(json.RawMessage, len(parameterSchema))
	copy(out, parameterSchema)
	return out
}

// FunctionTool describes the search service as a platform function tool.
// serviceURL is the public base URL of the service.
func FunctionTool(serviceURL string) platform.Tool {
	return platform.Tool{
		Type:        "function",
		Name:        ToolName,
		Description: toolDescription,
		URL:         strings.TrimRight(strings.TrimSpace(serviceURL), "/") + "/search",
		Method:      "POST",
		Timeout:     toolTimeoutSeconds,
		Parameters:  ParameterSchema(),
	}
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(parameterSchema))
		if err != nil {
			compileErr = fmt.Errorf("parse tool schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add tool schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// ValidateParameters checks decoded tool parameters against the advertised
// schema. Numbers must be json.Number, as produced by a decoder with
// UseNumber.
func ValidateParameters(params map[string]any) error {
	s, err := schema()
	if err != nil {
		return err
	}
	return s.Validate(params)
}
