// Package openapi generates an OpenAPI 3.0 document for the geodeploy API by
// reflecting on the request and response types of registered routes.
package openapi

import (
	"encoding"
	"encoding/json"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Generator produces an OpenAPI document from registered routes.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string
	routes      []Route
	mu          sync.RWMutex
	cachedSpec  *openapi3.T
}

// Route describes one API operation.
type Route struct {
	Method      string
	Path        string // chi-style pattern, e.g. /api/v1/deployments/{id}
	OperationID string
	Summary     string
	Tag         string
	Query       []string // optional query parameters
	Request     any      // request body model, nil for none
	Response    any      // response body model, nil for none
	Status      int      // success status. Default: 200.
	Protected   bool     // requires the operator token
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		g.title = title
	}
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		g.version = version
	}
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) {
		g.description = description
	}
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, url)
	}
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:       "GeoDeploy API",
		version:     "1.0.0",
		description: "Geo-distributed deployment orchestration API",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register adds routes to the document.
func (g *Generator) Register(routes ...Route) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes = append(g.routes, routes...)
	g.cachedSpec = nil
}

// Generate produces the OpenAPI document. The result is cached until the next
// Register call.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if g.cachedSpec != nil {
		spec := g.cachedSpec
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Servers: make(openapi3.Servers, 0, len(g.servers)),
		Paths:   &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas:         make(openapi3.Schemas),
			SecuritySchemes: make(openapi3.SecuritySchemes),
		},
	}
	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	g.addCommonSchemas(spec)

	for _, rt := range g.routes {
		g.addRoute(spec, rt)
	}

	g.cachedSpec = spec
	return spec
}

// Handler serves the document as JSON.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(g.Generate())
		if err != nil {
			http.Error(w, "openapi document unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// =============================================================================
// Paths
// =============================================================================

var pathParam = regexp.MustCompile(`\{([^}/]+)\}`)

func (g *Generator) addCommonSchemas(spec *openapi3.T) {
	spec.Components.Schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"code":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
			Required: []string{"error", "code"},
		},
	}
	spec.Components.SecuritySchemes["operatorToken"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{Type: "http", Scheme: "bearer"},
	}
}

func (g *Generator) addRoute(spec *openapi3.T, rt Route) {
	item := spec.Paths.Value(rt.Path)
	if item == nil {
		item = &openapi3.PathItem{}
		for _, m := range pathParam.FindAllStringSubmatch(rt.Path, -1) {
			item.Parameters = append(item.Parameters, &openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name:     m[1],
					In:       "path",
					Required: true,
					Schema:   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				},
			})
		}
		spec.Paths.Set(rt.Path, item)
	}

	op := &openapi3.Operation{
		OperationID: rt.OperationID,
		Summary:     rt.Summary,
		Responses:   &openapi3.Responses{},
	}
	if rt.Tag != "" {
		op.Tags = []string{rt.Tag}
	}
	for _, q := range rt.Query {
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:   q,
				In:     "query",
				Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		})
	}
	if rt.Request != nil {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: true,
				Content: openapi3.Content{
					"application/json": &openapi3.MediaType{Schema: g.schemaFor(spec, reflect.TypeOf(rt.Request))},
				},
			},
		}
	}
	if rt.Protected {
		op.Security = &openapi3.SecurityRequirements{{"operatorToken": []string{}}}
	}

	status := rt.Status
	if status == 0 {
		status = http.StatusOK
	}
	desc := http.StatusText(status)
	ok := &openapi3.Response{Description: &desc}
	if rt.Response != nil {
		ok.Content = openapi3.Content{
			"application/json": &openapi3.MediaType{Schema: g.schemaFor(spec, reflect.TypeOf(rt.Response))},
		}
	}
	op.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: ok})

	errDesc := "Error"
	op.Responses.Set("default", &openapi3.ResponseRef{Value: &openapi3.Response{
		Description: &errDesc,
		Content: openapi3.Content{
			"application/json": &openapi3.MediaType{
				Schema: &openapi3.SchemaRef{Ref: "#/components/schemas/Error"},
			},
		},
	}})

	switch rt.Method {
	case http.MethodGet:
		item.Get = op
	case http.MethodPost:
		item.Post = op
	case http.MethodPut:
		item.Put = op
	case http.MethodPatch:
		item.Patch = op
	case http.MethodDelete:
		item.Delete = op
	}
}

// =============================================================================
// Schema Generation
// =============================================================================

var (
	timeType          = reflect.TypeOf(time.Time{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// schemaFor returns a schema for t. Named structs become components and are
// referenced, which also terminates recursive types.
func (g *Generator) schemaFor(spec *openapi3.T, t reflect.Type) *openapi3.SchemaRef {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	// Instantiated generics have no usable component name and stay inline.
	if t.Kind() == reflect.Struct && t != timeType && t.Name() != "" && !strings.Contains(t.Name(), "[") && !marshalsItself(t) {
		name := t.Name()
		if _, ok := spec.Components.Schemas[name]; !ok {
			// Placeholder first so self-references resolve.
			spec.Components.Schemas[name] = &openapi3.SchemaRef{Value: &openapi3.Schema{}}
			spec.Components.Schemas[name] = g.extractSchema(spec, t)
		}
		return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
	}
	return g.goTypeToSchema(spec, t)
}

// extractSchema builds an object schema from a struct's exported fields.
func (g *Generator) extractSchema(spec *openapi3.T, t reflect.Type) *openapi3.SchemaRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		omitempty := false
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" || p == "omitzero" {
					omitempty = true
				}
			}
		}

		if field.Anonymous && jsonTag == "" && field.Type.Kind() == reflect.Struct {
			embedded := g.extractSchema(spec, field.Type)
			for k, v := range embedded.Value.Properties {
				schema.Properties[k] = v
			}
			continue
		}

		schema.Properties[name] = g.schemaFor(spec, field.Type)
		if !omitempty && field.Type.Kind() != reflect.Ptr {
			schema.Required = append(schema.Required, name)
		}
	}

	return &openapi3.SchemaRef{Value: schema}
}

// scalarTypes maps Go kinds to an OpenAPI {type, format} pair.
var scalarTypes = map[reflect.Kind][2]string{
	reflect.String:  {"string", ""},
	reflect.Bool:    {"boolean", ""},
	reflect.Int:     {"integer", "int32"},
	reflect.Int8:    {"integer", "int32"},
	reflect.Int16:   {"integer", "int32"},
	reflect.Int32:   {"integer", "int32"},
	reflect.Int64:   {"integer", "int64"},
	reflect.Uint:    {"integer", ""},
	reflect.Uint8:   {"integer", ""},
	reflect.Uint16:  {"integer", ""},
	reflect.Uint32:  {"integer", ""},
	reflect.Uint64:  {"integer", ""},
	reflect.Float32: {"number", "float"},
	reflect.Float64: {"number", "double"},
}

// goTypeToSchema converts a Go type to an inline OpenAPI schema.
func (g *Generator) goTypeToSchema(spec *openapi3.T, t reflect.Type) *openapi3.SchemaRef {
	if t == timeType {
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"},
		}
	}
	if marshalsItself(t) {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
	}

	if typ, ok := scalarTypes[t.Kind()]; ok {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ[0]}, Format: typ[1]}}
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: g.schemaFor(spec, t.Elem()),
			},
		}

	case reflect.Map:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: g.schemaFor(spec, t.Elem())},
			},
		}

	case reflect.Ptr:
		schema := g.goTypeToSchema(spec, t.Elem())
		if schema != nil && schema.Value != nil {
			schema.Value.Nullable = true
		}
		return schema

	case reflect.Struct:
		return g.extractSchema(spec, t)

	default:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
}

// marshalsItself reports whether t encodes to a JSON scalar of its own
// choosing. Such types are documented as strings.
func marshalsItself(t reflect.Type) bool {
	if t.Kind() == reflect.String {
		return false
	}
	for _, it := range []reflect.Type{textMarshalerType, jsonMarshalerType} {
		if t.Implements(it) || reflect.PointerTo(t).Implements(it) {
			return true
		}
	}
	return false
}
