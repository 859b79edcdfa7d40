// Package api provides the HTTP API for the recipe app.
//
//	@title						Recipe App API
//	@version					1.0
//	@description				Manage recipes, tags and ingredients for authenticated users.
//
//	@contact.name				ethPandaOps
//	@contact.url				https://github.com/ethpandaops/recipe-app-api
//
//	@license.name				MIT
//	@license.url				https://github.com/ethpandaops/recipe-app-api/blob/main/LICENSE
//
//	@BasePath					/
//
//	@securityDefinitions.apikey	TokenAuth
//	@in							header
//	@name						Authorization
//	@description				Token authentication. Format: "Token {token}"
//
//	@tag.name					user
//	@tag.description			Accounts, tokens and profiles
//
//	@tag.name					recipe
//	@tag.description			Recipes, tags and ingredients of the authenticated user
//
//	@tag.name					admin
//	@tag.description			Staff-only management of all objects
//
//	@tag.name					system
//	@tag.description			System health and documentation
//
//	@tag.name					websocket
//	@tag.description			Real-time change notifications
package api

//go:generate swag init -g docs.go -d ./ -o ./docs --parseDependency

import (
	"net/http"

	"github.com/ethpandaops/recipe-app-api/pkg/api/docs"
)

const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Recipe App API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
  <script>
    window.onload = () => {
      window.ui = SwaggerUIBundle({
        url: "/api/schema/",
        dom_id: "#swagger-ui",
        persistAuthorization: true,
      });
    };
  </script>
</body>
</html>
`

// handleOpenAPISpec godoc
//
//	@Summary		API schema
//	@Description	Returns the Swagger 2.0 schema for the API
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	object	"API schema"
//	@Router			/api/schema/ [get]
func (s *server) handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(docs.SwaggerInfo.ReadDoc()))
}

// handleDocs godoc
//
//	@Summary		API documentation
//	@Description	Serves interactive Swagger UI for the API schema
//	@Tags			system
//	@Produce		html
//	@Success		200	{string}	string	"HTML page"
//	@Router			/api/docs/ [get]
func (s *server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(swaggerUIPage))
}
