package openapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widgetRequest struct {
	Name string `json:"name"`
}

type widget struct {
	ID        string            `json:"id"`
	Tags      []string          `json:"tags"`
	Labels    map[string]string `json:"labels,omitempty"`
	Port      int               `json:"port"`
	ExitCode  *int              `json:"exit_code,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	secret    string
}

func TestGenerate(t *testing.T) {
	g := NewGenerator(WithTitle("Test"), WithServer("http://localhost:8080"))
	g.Register(
		Route{Method: http.MethodPost, Path: "/widgets", OperationID: "createWidget", Request: widgetRequest{}, Response: widget{}, Status: http.StatusCreated},
		Route{Method: http.MethodGet, Path: "/widgets/{id}", OperationID: "getWidget", Response: widget{}, Query: []string{"verbose"}},
	)

	spec := g.Generate()

	assert.Equal(t, "Test", spec.Info.Title)
	require.Len(t, spec.Servers, 1)

	create := spec.Paths.Value("/widgets").Post
	require.NotNil(t, create)
	assert.Equal(t, "createWidget", create.OperationID)
	assert.NotNil(t, create.Responses.Value("201"))
	assert.NotNil(t, create.Responses.Value("default"))
	assert.Nil(t, create.Responses.Value("200"))

	item := spec.Paths.Value("/widgets/{id}")
	require.Len(t, item.Parameters, 1)
	assert.Equal(t, "id", item.Parameters[0].Value.Name)
	require.Len(t, item.Get.Parameters, 1)
	assert.Equal(t, "verbose", item.Get.Parameters[0].Value.Name)

	schema := spec.Components.Schemas["widget"]
	require.NotNil(t, schema)
	props := schema.Value.Properties
	assert.Contains(t, props, "created_at")
	assert.Equal(t, "date-time", props["created_at"].Value.Format)
	assert.True(t, props["exit_code"].Value.Nullable)
	assert.NotContains(t, props, "secret")
	assert.Contains(t, spec.Components.Schemas, "widgetRequest")

	assert.Same(t, spec, g.Generate())
}

func TestHandler(t *testing.T) {
	g := NewGenerator()
	g.Register(Route{Method: http.MethodGet, Path: "/health", OperationID: "health"})

	w := httptest.NewRecorder()
	g.Handler()(w, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"operationId":"health"`)
}
