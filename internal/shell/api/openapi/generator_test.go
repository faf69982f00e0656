package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

type widget struct {
	ID       string          `json:"id"`
	Weight   float64         `json:"weight"`
	Tags     []string        `json:"tags,omitempty"`
	Wait     domain.Duration `json:"wait"`
	Created  time.Time       `json:"created_at"`
	Parent   *widget         `json:"parent,omitempty"`
	internal string
}

type page[T any] struct {
	Data []T `json:"data"`
}

func TestGenerate_RoutesAndSchemas(t *testing.T) {
	g := NewGenerator(WithTitle("Test API"), WithVersion("2.0.0"), WithServer("http://localhost:8080"))
	g.Register(
		Route{Method: http.MethodPost, Path: "/api/v1/widgets", OperationID: "createWidget", Request: widget{}, Response: widget{}, Status: http.StatusCreated, Protected: true},
		Route{Method: http.MethodGet, Path: "/api/v1/widgets/{id}", OperationID: "getWidget", Response: widget{}},
		Route{Method: http.MethodGet, Path: "/api/v1/widgets", OperationID: "listWidgets", Query: []string{"limit"}, Response: page[widget]{}},
	)

	spec := g.Generate()

	assert.Equal(t, "Test API", spec.Info.Title)
	assert.Equal(t, "2.0.0", spec.Info.Version)
	require.Len(t, spec.Servers, 1)

	create := spec.Paths.Value("/api/v1/widgets").Post
	require.NotNil(t, create)
	assert.Equal(t, "createWidget", create.OperationID)
	assert.NotNil(t, create.Responses.Value("201"))
	assert.NotNil(t, create.Responses.Value("default"))
	require.NotNil(t, create.Security)

	item := spec.Paths.Value("/api/v1/widgets/{id}")
	require.NotNil(t, item)
	require.Len(t, item.Parameters, 1)
	assert.Equal(t, "id", item.Parameters[0].Value.Name)
	assert.Equal(t, "path", item.Parameters[0].Value.In)

	list := spec.Paths.Value("/api/v1/widgets").Get
	require.NotNil(t, list)
	require.Len(t, list.Parameters, 1)
	assert.Equal(t, "limit", list.Parameters[0].Value.Name)

	schema := spec.Components.Schemas["widget"]
	require.NotNil(t, schema)
	props := schema.Value.Properties
	assert.Equal(t, "#/components/schemas/widget", props["parent"].Ref, "self reference")
	assert.True(t, props["wait"].Value.Type.Is("string"), "duration encodes itself as a string")
	assert.Equal(t, "date-time", props["created_at"].Value.Format)
	assert.NotContains(t, props, "internal")
	assert.Contains(t, schema.Value.Required, "id")
	assert.NotContains(t, schema.Value.Required, "tags")

	for name := range spec.Components.Schemas {
		assert.NotContains(t, name, "[", "generic instantiations stay inline")
	}
}

func TestGenerate_Cached(t *testing.T) {
	g := NewGenerator()
	g.Register(Route{Method: http.MethodGet, Path: "/a", OperationID: "a"})

	first := g.Generate()
	assert.Same(t, first, g.Generate())

	g.Register(Route{Method: http.MethodGet, Path: "/b", OperationID: "b"})
	second := g.Generate()
	assert.NotSame(t, first, second)
	assert.NotNil(t, second.Paths.Value("/b"))
}

func TestHandler_ServesJSON(t *testing.T) {
	g := NewGenerator()
	g.Register(Route{Method: http.MethodGet, Path: "/health", OperationID: "health"})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/openapi.json", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
}
