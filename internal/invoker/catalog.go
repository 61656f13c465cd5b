package invoker

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/seanchatmangpt/wrkflo/internal/expressions"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Catalog resolves step targets to callable operations.
type Catalog interface {
	Lookup(ctx context.Context, operationID string) (*schema.Operation, error)
	LookupPath(ctx context.Context, operationPath string, ec *expressions.Context) (*schema.Operation, error)
}

var httpMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// DocumentCatalog serves operations from a document's source descriptions:
// inline operation lists first, then operations declared in loaded OpenAPI
// documents. Sources are searched in document order.
type DocumentCatalog struct {
	doc   *schema.Document
	specs map[string]map[string]any
}

// NewCatalog creates a catalog. specs maps a source description name to its
// parsed OpenAPI document; it may be nil when all operations are inline.
func NewCatalog(doc *schema.Document, specs map[string]map[string]any) *DocumentCatalog {
	if specs == nil {
		specs = make(map[string]map[string]any)
	}
	return &DocumentCatalog{doc: doc, specs: specs}
}

// Lookup finds an operation by ID. A qualified ID of the form
// $sourceDescriptions.<name>.<operationId> restricts the search to one source.
func (c *DocumentCatalog) Lookup(_ context.Context, operationID string) (*schema.Operation, error) {
	source, id := splitQualified(operationID)

	for i := range c.doc.SourceDescriptions {
		sd := &c.doc.SourceDescriptions[i]
		if source != "" && sd.Name != source {
			continue
		}
		for _, op := range sd.Operations {
			if op.OperationID == id {
				found := op
				found.Source = sd.Name
				return &found, nil
			}
		}
		if spec, ok := c.specs[sd.Name]; ok {
			if op := findInSpec(spec, sd, id); op != nil {
				return op, nil
			}
		}
	}
	return nil, OperationNotFoundError(operationID)
}

// LookupPath resolves an operationPath such as
// {$sourceDescriptions.petstore.url}#/paths/~1pet~1{petId}/get.
func (c *DocumentCatalog) LookupPath(_ context.Context, operationPath string, _ *expressions.Context) (*schema.Operation, error) {
	ref, pointer, ok := strings.Cut(operationPath, "#")
	if !ok {
		return nil, OperationNotFoundError(operationPath)
	}
	ref = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(ref), "{"), "}"))
	name, ok := sourceName(ref)
	if !ok {
		return nil, OperationNotFoundError(operationPath)
	}
	sd, ok := c.doc.Source(name)
	if !ok {
		return nil, OperationNotFoundError(operationPath)
	}
	spec, ok := c.specs[name]
	if !ok {
		return nil, OperationNotFoundError(operationPath).
			WithDetails(map[string]any{"source": name, "reason": "source document not loaded"})
	}

	tokens := splitPointer(pointer)
	if len(tokens) != 3 || tokens[0] != "paths" {
		return nil, OperationNotFoundError(operationPath)
	}
	path, method := tokens[1], strings.ToLower(tokens[2])

	paths, _ := spec["paths"].(map[string]any)
	item, _ := paths[path].(map[string]any)
	opObj, ok := item[method].(map[string]any)
	if !ok {
		return nil, OperationNotFoundError(operationPath)
	}

	id, _ := opObj["operationId"].(string)
	return &schema.Operation{
		OperationID: id,
		URL:         joinURL(serverURL(spec, sd), path),
		Method:      strings.ToUpper(method),
		Source:      name,
	}, nil
}

func findInSpec(spec map[string]any, sd *schema.SourceDescription, operationID string) *schema.Operation {
	paths, _ := spec["paths"].(map[string]any)

	// Walk paths in sorted order so duplicate IDs resolve deterministically.
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, path := range keys {
		item, _ := paths[path].(map[string]any)
		for _, method := range httpMethods {
			opObj, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			if id, _ := opObj["operationId"].(string); id == operationID {
				return &schema.Operation{
					OperationID: id,
					URL:         joinURL(serverURL(spec, sd), path),
					Method:      strings.ToUpper(method),
					Source:      sd.Name,
				}
			}
		}
	}
	return nil
}

// serverURL returns the first declared server, resolved against the source
// description URL when relative.
func serverURL(spec map[string]any, sd *schema.SourceDescription) string {
	var server string
	if servers, ok := spec["servers"].([]any); ok && len(servers) > 0 {
		if s, ok := servers[0].(map[string]any); ok {
			server, _ = s["url"].(string)
		}
	}

	base, err := url.Parse(sd.URL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return server
	}
	if server == "" {
		return base.Scheme + "://" + base.Host
	}
	ref, err := url.Parse(server)
	if err != nil {
		return server
	}
	return base.ResolveReference(ref).String()
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// splitQualified splits $sourceDescriptions.<name>.<operationId>.
func splitQualified(operationID string) (source, id string) {
	rest, ok := strings.CutPrefix(operationID, "$sourceDescriptions.")
	if !ok {
		return "", operationID
	}
	source, id, ok = strings.Cut(rest, ".")
	if !ok {
		return "", operationID
	}
	return source, id
}

// sourceName extracts <name> from $sourceDescriptions.<name>[.url].
func sourceName(ref string) (string, bool) {
	rest, ok := strings.CutPrefix(ref, "$sourceDescriptions.")
	if !ok || rest == "" {
		return "", false
	}
	name := strings.TrimSuffix(rest, ".url")
	if strings.Contains(name, ".") {
		return "", false
	}
	return name, true
}

func splitPointer(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		parts[i] = strings.ReplaceAll(part, "~0", "~")
	}
	return parts
}

// OperationNotFoundError reports a step target the catalog cannot resolve.
func OperationNotFoundError(target string) *schema.WrkfloError {
	return schema.NewErrorf(schema.ErrCodeOperationNotFound, "operation %q not found in source descriptions", target).
		WithDetails(map[string]any{"target": target})
}
