// Package api содержит OpenAPI-описание REST-панели, отдаваемое сваггером.
package api

import _ "embed"

//go:embed openapi.json
var OpenAPISpec []byte
