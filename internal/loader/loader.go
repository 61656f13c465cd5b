// Package loader reads workflow documents and the OpenAPI documents their
// source descriptions point at.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seanchatmangpt/wrkflo/internal/transport"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Loader reads documents from disk or over HTTP.
type Loader struct {
	client transport.Client
	logger *slog.Logger
}

// New creates a Loader. client is used for http(s) locations; it may be nil
// when only local files are read.
func New(client transport.Client, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{client: client, logger: logger}
}

// Load reads and parses the document at location, a file path or an
// http(s) URL.
func (l *Loader) Load(ctx context.Context, location string) (*schema.Document, error) {
	data, err := l.read(ctx, location, "")
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return doc, nil
}

// Parse decodes a YAML or JSON workflow document.
func Parse(data []byte) (*schema.Document, error) {
	tree, err := decode(data)
	if err != nil {
		return nil, err
	}
	if _, ok := tree.(map[string]any); !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "document root must be a mapping")
	}

	// Round-trip through JSON so both encodings share the json tags.
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "re-encode document").WithCause(err)
	}
	var doc schema.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode document: %v", err).WithCause(err)
	}
	return &doc, nil
}

// LoadSources fetches the OpenAPI document behind every openapi source
// description that has no inline operations. Relative URLs resolve against
// base, the location of the workflow document. Sources that fail to load are
// returned in failures and logged; lookups against them report the operation
// as not found.
func (l *Loader) LoadSources(ctx context.Context, doc *schema.Document, base string) (specs map[string]map[string]any, failures map[string]error) {
	specs = make(map[string]map[string]any)
	failures = make(map[string]error)
	for _, sd := range doc.SourceDescriptions {
		if len(sd.Operations) > 0 || (sd.Type != "" && sd.Type != schema.SourceTypeOpenAPI) {
			continue
		}
		spec, err := l.loadSpec(ctx, sd.URL, base)
		if err != nil {
			l.logger.WarnContext(ctx, "failed to load source description",
				"source", sd.Name, "url", sd.URL, "error", err.Error())
			failures[sd.Name] = err
			continue
		}
		specs[sd.Name] = spec
	}
	return specs, failures
}

func (l *Loader) loadSpec(ctx context.Context, location, base string) (map[string]any, error) {
	data, err := l.read(ctx, location, base)
	if err != nil {
		return nil, err
	}
	tree, err := decode(data)
	if err != nil {
		return nil, err
	}
	spec, ok := tree.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "source %s is not an OpenAPI document", location)
	}
	return spec, nil
}

// read returns the bytes at location. Relative file paths resolve against
// the directory of base, and relative URLs against base when it is a URL.
func (l *Loader) read(ctx context.Context, location, base string) ([]byte, error) {
	if isURL(base) && !isURL(location) {
		baseURL, err := url.Parse(base)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid base URL %s", base).WithCause(err)
		}
		ref, err := url.Parse(location)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid source URL %s", location).WithCause(err)
		}
		location = baseURL.ResolveReference(ref).String()
	}

	if isURL(location) {
		if l.client == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "no HTTP client to fetch %s", location)
		}
		resp, err := l.client.Do(ctx, &transport.Request{
			URL:     location,
			Headers: map[string]string{"Accept": "application/json, application/yaml, */*"},
		})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTransport, "fetch %s: %v", location, err).WithCause(err)
		}
		return resp.Raw, nil
	}

	path := strings.TrimPrefix(location, "file://")
	if base != "" && !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(base), path)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "document %s not found", path).WithCause(err)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "read %s: %v", path, err).WithCause(err)
	}
	return data, nil
}

func decode(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "document is empty")
	}
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse document: %v", err).WithCause(err)
	}
	return normalize(tree), nil
}

// normalize converts the map[any]any that YAML produces for non-string keys
// (response codes, for instance) into map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			t[k] = normalize(inner)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[fmt.Sprint(k)] = normalize(inner)
		}
		return out
	case []any:
		for i, inner := range t {
			t[i] = normalize(inner)
		}
		return t
	default:
		return v
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
