package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the API.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>carecoord API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document of the HTTP surface. {kind} is one of patients, doctors,
// appointments, prescriptions, itineraries.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "carecoord", "version": "v0.1.0" },
  "components": { "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } } },
  "paths": {
    "/auth/session": {
      "post": { "summary": "Open a session with an identity-provider id token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"idToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "access and refresh tokens" }, "401": { "description": "invalid id token" } } }
    },
    "/auth/login": {
      "post": { "summary": "Exchange an authorization code", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"code":{"type":"string"},"redirectUri":{"type":"string"}}}}}}, "responses": { "200": { "description": "access and refresh tokens" } } }
    },
    "/auth/refresh": {
      "post": { "summary": "Rotate the refresh token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refreshToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "new tokens" }, "401": { "description": "invalid refresh" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Delete the refresh session and revoke the access token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refreshToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "logged out" } } }
    },
    "/api/me": {
      "get": { "summary": "Caller's user record", "security": [{"bearer": []}], "responses": { "200": { "description": "user or claims" } } }
    },
    "/api/{kind}": {
      "get": { "summary": "List the caller's records, or records matching field=value", "security": [{"bearer": []}], "parameters": [{"name":"field","in":"query","schema":{"type":"string"}},{"name":"value","in":"query","schema":{"type":"string"}}], "responses": { "200": { "description": "records" }, "400": { "description": "field not filterable" }, "404": { "description": "unknown kind" } } },
      "post": { "summary": "Create a record", "security": [{"bearer": []}], "responses": { "201": { "description": "id of the new record" }, "400": { "description": "invalid field" } } }
    },
    "/api/{kind}/{id}": {
      "get": { "summary": "Read one record", "security": [{"bearer": []}], "responses": { "200": { "description": "record" }, "404": { "description": "not found" } } },
      "patch": { "summary": "Merge fields into a record", "security": [{"bearer": []}], "responses": { "200": { "description": "updated" }, "404": { "description": "not found" } } },
      "delete": { "summary": "Soft-delete a record", "security": [{"bearer": []}], "responses": { "204": { "description": "deleted" } } }
    },
    "/api/{kind}/{id}/intakes": {
      "post": { "summary": "Record a dosage intake on a prescription", "security": [{"bearer": []}], "responses": { "201": { "description": "intake" } } }
    },
    "/api/{kind}/{id}/attachments": {
      "post": { "summary": "Upload an attachment (multipart field file)", "security": [{"bearer": []}], "responses": { "201": { "description": "attachment" } } }
    },
    "/api/stream/{kind}": {
      "get": { "summary": "Server-sent snapshot events of a live list", "security": [{"bearer": []}], "responses": { "200": { "description": "text/event-stream" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
