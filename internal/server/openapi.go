package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"reflect"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

// registerOpenAPI serves the generated document with the error envelope and
// per-route security requirements filled in. The document is built once, on
// first request, after every operation has been registered.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	})
}

func registerDocs(r chi.Router, basePath string) {
	page := docsPage(path.Join("/", basePath, "openapi.json"))
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	})
}

var (
	userSecurity    = []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	webhookSecurity = []map[string][]string{{"webhookSecret": {}}}
	noSecurity      = []map[string][]string{}
)

func decorateOpenAPI(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth":    {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		"apiKeyAuth":    {Type: "apiKey", In: "header", Name: "X-Api-Key"},
		"webhookSecret": {Type: "apiKey", In: "header", Name: webhookSecretHeader},
	}
	oas.Security = userSecurity

	public := map[string]bool{}
	for _, p := range publicPaths(basePath) {
		public[p] = true
	}
	webhook := path.Join(basePath, webhookPath)
	errorSchema := &huma.Schema{Type: huma.TypeObject}
	if oas.Components.Schemas != nil {
		errorSchema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	errorResponse := &huma.Response{
		Description: "Error envelope",
		Content:     map[string]*huma.MediaType{"application/json": {Schema: errorSchema}},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errorResponse
			switch {
			case route == webhook:
				op.Security = webhookSecurity
			case public[route]:
				op.Security = noSecurity
			default:
				op.Security = userSecurity
			}
		}
	}
}

func docsPage(docURL string) []byte {
	return []byte(fmt.Sprintf(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Transcriptdesk API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
<script>window.onload = function () { SwaggerUIBundle({url: %q, dom_id: "#ui"}); };</script>
<p>Staff and students authenticate with a bearer token or X-Api-Key. The payment provider sends X-Webhook-Secret.</p>
</body>
</html>`, docURL))
}
