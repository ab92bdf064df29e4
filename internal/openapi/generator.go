// Package openapi builds the OpenAPI 3.1 document describing keysmith's
// HTTP API.
package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/keysmith/internal/ratelimit"
)

// Endpoint describes one operation of the HTTP API.
type Endpoint struct {
	Path        string
	Category    string // rate limit category; empty when the route is not limited
	OperationID string
	Summary     string
	Description string
	Bearer      bool   // requires an access token
	Request     string // component schema name of the body; empty for none
	Status      string
	Response    string // component schema name of the success body
}

// Endpoints lists every POST operation keysmith serves, in display order.
var Endpoints = []Endpoint{
	{
		Path: "/users", Category: ratelimit.CategoryDataWrite, OperationID: "create_user",
		Summary:     "Register a user",
		Description: "Creates the user that API keys are issued to.",
		Request:     "CreateUserRequest", Status: "201", Response: "User",
	},
	{
		Path: "/api-keys", Category: ratelimit.CategoryKeyGeneration, OperationID: "create_api_key",
		Summary:     "Issue an API key",
		Description: "Generates a version 1 key for an existing user. The key text is returned once and only its hash is stored.",
		Request:     "IssueKeyRequest", Status: "201", Response: "IssuedKey",
	},
	{
		Path: "/api-keys/rotate", Category: ratelimit.CategoryKeyGeneration, OperationID: "rotate_api_key",
		Summary:     "Rotate an API key",
		Description: "Issues the next version of a valid key with the same user, scopes and expiry, then deactivates the presented key.",
		Request:     "APIKeyRequest", Status: "201", Response: "IssuedKey",
	},
	{
		Path: "/validate", Category: ratelimit.CategoryAuthentication, OperationID: "validate_api_key",
		Summary:     "Exchange an API key for an access token",
		Description: "Checks the key's format, checksum, existence, activity and expiry, then mints a short-lived HS256 access token.",
		Request:     "APIKeyRequest", Status: "200", Response: "AccessToken",
	},
	{
		Path: "/tokens/validate", Category: ratelimit.CategoryAuthentication, OperationID: "validate_token",
		Summary:     "Verify an access token",
		Description: "Checks signature, expiry and revocation state.",
		Request:     "TokenRequest", Status: "200", Response: "TokenInfo",
	},
	{
		Path: "/tokens/revoke", Category: ratelimit.CategoryDataWrite, OperationID: "revoke_token",
		Summary:     "Revoke an access token",
		Description: "Revokes a token given as text or as the hex SHA-256 of its text. Revoking twice succeeds.",
		Request:     "RevokeRequest", Status: "200", Response: "RevokeResult",
	},
	{
		Path: "/protected", Category: ratelimit.CategoryDataRead, OperationID: "protected",
		Summary:     "Access a protected resource",
		Description: "Returns the identity and scopes bound to the bearer token.",
		Bearer:      true, Status: "200", Response: "Identity",
	},
}

// Generate returns the OpenAPI document for the keysmith API served at
// baseURL.
func Generate(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "keysmith API",
			Description: "API key issuance, access token validation and per-client rate limiting.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	doc.Components = &components

	doc.Paths = openapi3.NewPaths()
	for _, ep := range Endpoints {
		doc.Paths.Set(ep.Path, &openapi3.PathItem{Post: operation(ep)})
	}
	addProbePaths(doc)
	return doc
}

func operation(ep Endpoint) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:        []string{tagFor(ep)},
		Summary:     ep.Summary,
		Description: ep.Description,
		OperationID: ep.OperationID,
		Responses:   newResponses(ep),
	}
	if ep.Category != "" {
		op.Description = fmt.Sprintf("%s Rate limit category: %s.", ep.Description, ep.Category)
	}
	if ep.Request != "" {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(true).
				WithJSONSchemaRef(schemaRef(ep.Request)),
		}
	}
	if ep.Bearer {
		op.Security = &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	}
	return op
}

func tagFor(ep Endpoint) string {
	switch ep.Path {
	case "/users":
		return "users"
	case "/api-keys", "/api-keys/rotate":
		return "keys"
	default:
		return "tokens"
	}
}

func schemaRef(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

// newResponses builds the success response plus the error responses every
// limited endpoint can produce.
func newResponses(ep Endpoint) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := ep.Summary
	success := &openapi3.Response{
		Description: &successDesc,
		Content:     openapi3.NewContentWithJSONSchemaRef(schemaRef(ep.Response)),
	}
	if ep.Category != "" {
		success.Headers = rateLimitHeaders(false)
	}
	responses.Set(ep.Status, &openapi3.ResponseRef{Value: success})

	errorRef := schemaRef("ErrorResponse")
	addError := func(code, desc string, headers openapi3.Headers) {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
				Headers:     headers,
			},
		})
	}

	addError("400", "Malformed request, key format or checksum, or token signature", nil)
	addError("401", "Key not found, inactive or expired; token expired or revoked", nil)
	if ep.Path == "/users" {
		addError("409", "Username or email already registered", nil)
	}
	if ep.Path == "/api-keys" || ep.Path == "/tokens/revoke" {
		addError("404", "Referenced user or token does not exist", nil)
	}
	if ep.Category != "" {
		addError("429", "Rate limit exceeded", rateLimitHeaders(true))
	}
	addError("503", "Credential store unavailable", nil)
	return responses
}

func rateLimitHeaders(denied bool) openapi3.Headers {
	h := openapi3.Headers{
		"X-RateLimit-Limit":     intHeader("Quota of the request's category for the current window."),
		"X-RateLimit-Remaining": intHeader("Admissions left in the current window."),
		"X-RateLimit-Reset":     intHeader("Seconds until the current window ends, rounded up."),
	}
	if denied {
		h["Retry-After"] = intHeader("Seconds to wait before retrying.")
	}
	return h
}

func intHeader(desc string) *openapi3.HeaderRef {
	return &openapi3.HeaderRef{
		Value: &openapi3.Header{
			Parameter: openapi3.Parameter{
				Description: desc,
				Schema:      openapi3.NewIntegerSchema().NewRef(),
			},
		},
	}
}

func addProbePaths(doc *openapi3.T) {
	status := openapi3.NewObjectSchema().WithProperty("status", openapi3.NewStringSchema())
	for _, p := range []struct{ path, id, summary string }{
		{"/healthz", "healthz", "Liveness probe"},
		{"/readyz", "readyz", "Readiness probe; pings the credential store"},
	} {
		ok := "OK"
		unavailable := "Not ready"
		responses := openapi3.NewResponses()
		responses.Set("200", &openapi3.ResponseRef{Value: &openapi3.Response{
			Description: &ok,
			Content:     openapi3.NewContentWithJSONSchema(status),
		}})
		if p.path == "/readyz" {
			responses.Set("503", &openapi3.ResponseRef{Value: &openapi3.Response{
				Description: &unavailable,
				Content:     openapi3.NewContentWithJSONSchema(status),
			}})
		}
		doc.Paths.Set(p.path, &openapi3.PathItem{Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     p.summary,
			OperationID: p.id,
			Responses:   responses,
		}})
	}
}
