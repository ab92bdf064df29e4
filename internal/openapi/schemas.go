package openapi

import "github.com/getkin/kin-openapi/openapi3"

// keyPattern matches the persisted key text layout:
// prefix_environment_v{version}_{unix seconds}_{base32 random}_{base32 checksum}.
const keyPattern = `^[^_]+_[^_]+_v[1-9][0-9]*_[0-9]+_[A-Z2-7]{32}_[A-Z2-7]{7}$`

func componentSchemas() openapi3.Schemas {
	scopes := openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
	scopes.Description = "Scope names; membership is exact."

	apiKey := openapi3.NewStringSchema().WithPattern(keyPattern)
	apiKey.Description = "Full API key text."

	return openapi3.Schemas{
		"ErrorResponse": errorSchema().NewRef(),

		"CreateUserRequest": required(openapi3.NewObjectSchema().
			WithProperty("username", openapi3.NewStringSchema().WithMinLength(1)).
			WithProperty("email", openapi3.NewStringSchema().WithFormat("email")),
			"username", "email").NewRef(),

		"User": openapi3.NewObjectSchema().
			WithProperty("id", openapi3.NewInt64Schema()).
			WithProperty("username", openapi3.NewStringSchema()).
			WithProperty("email", openapi3.NewStringSchema()).
			WithProperty("created_at", openapi3.NewDateTimeSchema()).
			WithProperty("updated_at", openapi3.NewDateTimeSchema()).NewRef(),

		"IssueKeyRequest": required(openapi3.NewObjectSchema().
			WithProperty("user_id", openapi3.NewInt64Schema()).
			WithProperty("scopes", scopes).
			WithProperty("expires_at", openapi3.NewDateTimeSchema()),
			"user_id").NewRef(),

		"APIKeyRequest": required(openapi3.NewObjectSchema().
			WithProperty("api_key", apiKey),
			"api_key").NewRef(),

		"IssuedKey": openapi3.NewObjectSchema().
			WithProperty("api_key", apiKey).
			WithProperty("id", openapi3.NewInt64Schema()).
			WithProperty("user_id", openapi3.NewInt64Schema()).
			WithProperty("key_prefix", openapi3.NewStringSchema()).
			WithProperty("version", openapi3.NewInt32Schema()).
			WithProperty("scopes", scopes).
			WithProperty("issued_at", openapi3.NewDateTimeSchema()).
			WithProperty("expires_at", openapi3.NewDateTimeSchema()).NewRef(),

		"AccessToken": openapi3.NewObjectSchema().
			WithProperty("access_token", openapi3.NewStringSchema()).
			WithProperty("token_type", openapi3.NewStringSchema()).
			WithProperty("expires_at", openapi3.NewDateTimeSchema()).
			WithProperty("expires_in", openapi3.NewInt64Schema()).NewRef(),

		"TokenRequest": required(openapi3.NewObjectSchema().
			WithProperty("token", openapi3.NewStringSchema()),
			"token").NewRef(),

		"TokenInfo": openapi3.NewObjectSchema().
			WithProperty("valid", openapi3.NewBoolSchema()).
			WithProperty("user_id", openapi3.NewInt64Schema()).
			WithProperty("api_key_id", openapi3.NewInt64Schema()).
			WithProperty("scopes", scopes).
			WithProperty("issued_at", openapi3.NewDateTimeSchema()).
			WithProperty("expires_at", openapi3.NewDateTimeSchema()).NewRef(),

		"RevokeRequest": openapi3.NewObjectSchema().
			WithProperty("token", openapi3.NewStringSchema()).
			WithProperty("token_hash", openapi3.NewStringSchema().WithPattern(`^[0-9a-f]{64}$`)).NewRef(),

		"RevokeResult": openapi3.NewObjectSchema().
			WithProperty("revoked", openapi3.NewBoolSchema()).NewRef(),

		"Identity": openapi3.NewObjectSchema().
			WithProperty("message", openapi3.NewStringSchema()).
			WithProperty("user_id", openapi3.NewInt64Schema()).
			WithProperty("api_key_id", openapi3.NewInt64Schema()).
			WithProperty("scopes", scopes).NewRef(),
	}
}

func errorSchema() *openapi3.Schema {
	context := openapi3.NewObjectSchema().
		WithProperty("category", openapi3.NewStringSchema()).
		WithProperty("remaining", openapi3.NewInt32Schema()).
		WithProperty("reset_in_seconds", openapi3.NewInt64Schema())
	context.Description = "Present on rate limit errors."

	detail := openapi3.NewObjectSchema().
		WithProperty("code", openapi3.NewInt32Schema()).
		WithProperty("kind", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("context", context)

	return openapi3.NewObjectSchema().WithProperty("error", detail)
}

func required(s *openapi3.Schema, names ...string) *openapi3.Schema {
	s.Required = names
	return s
}
