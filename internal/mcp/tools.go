package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/keycodec"
	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/ratelimit"
)

const (
	defaultUsageLimit = 50
	maxUsageLimit     = 500
)

// registerTools registers all keysmith MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Key tools -----

	srv.AddTool(
		mcp.NewTool("keysmith_inspect_key",
			mcp.WithDescription(
				"Decode an API key offline and verify its checksum. Reports the prefix, "+
					"environment, version and issue time embedded in the key, whether it was "+
					"issued for this deployment, and the status of the stored record if any. "+
					"Does not count against rate limits and never mints a token.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("api_key",
				mcp.Required(),
				mcp.Description("Full API key text"),
			),
		),
		s.handleInspectKey,
	)

	srv.AddTool(
		mcp.NewTool("keysmith_list_keys",
			mcp.WithDescription(
				"List issued API keys with their display prefix, scopes, status and usage "+
					"counters. Key text and hashes are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("user_id",
				mcp.Description("Only list keys owned by this user id"),
			),
		),
		s.handleListKeys,
	)

	// ----- Token tools -----

	srv.AddTool(
		mcp.NewTool("keysmith_validate_token",
			mcp.WithDescription(
				"Verify an access token's signature, expiry and revocation status and return "+
					"the identity and scopes bound into it. Counts against the authentication "+
					"rate limit.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("token",
				mcp.Required(),
				mcp.Description("Access token (JWT) text"),
			),
		),
		s.handleValidateToken,
	)

	srv.AddTool(
		mcp.NewTool("keysmith_revoke_token",
			mcp.WithDescription(
				"Revoke an access token by its text or by the token_hash reported in the "+
					"usage log. Revoking an already revoked token succeeds.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("token",
				mcp.Description("Access token text"),
			),
			mcp.WithString("token_hash",
				mcp.Description("Hex SHA-256 of the token, used when the text is not at hand"),
			),
		),
		s.handleRevokeToken,
	)

	// ----- Audit -----

	srv.AddTool(
		mcp.NewTool("keysmith_usage_log",
			mcp.WithDescription(
				"Return the most recent authentication attempts from the usage log, newest first.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("limit",
				mcp.Description("Maximum entries to return (default 50, max 500)"),
			),
		),
		s.handleUsageLog,
	)
}

// keyInspection is the result of keysmith_inspect_key.
type keyInspection struct {
	Valid         bool          `json:"valid"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	Error         string        `json:"error,omitempty"`
	Prefix        string        `json:"prefix,omitempty"`
	Environment   string        `json:"environment,omitempty"`
	Version       int           `json:"version,omitempty"`
	IssuedAt      *time.Time    `json:"issued_at,omitempty"`
	DisplayPrefix string        `json:"display_prefix,omitempty"`
	ThisIssuer    bool          `json:"issued_by_this_deployment"`
	Status        string        `json:"status,omitempty"`
	Stored        *model.APIKey `json:"stored,omitempty"`
}

func (s *MCPServer) handleInspectKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	text, err := requireString(request, "api_key")
	if err != nil {
		return toolError("%v", err)
	}

	parsed, err := keycodec.Parse(text)
	if err != nil {
		return successJSON(keyInspection{
			ErrorKind: autherr.KindOf(err).String(),
			Error:     err.Error(),
		})
	}

	issued := parsed.IssuedAt()
	out := keyInspection{
		Valid:         true,
		Prefix:        parsed.Prefix,
		Environment:   parsed.Environment,
		Version:       parsed.Version,
		IssuedAt:      &issued,
		DisplayPrefix: parsed.DisplayPrefix(),
	}
	if s.codec != nil {
		out.ThisIssuer = parsed.Prefix == s.codec.Prefix() && parsed.Environment == s.codec.Environment()
	}

	if s.store == nil {
		return successJSON(out)
	}
	key, err := s.store.FindKeyByHash(ctx, keycodec.Hash(text))
	switch {
	case errors.Is(err, config.ErrNotFound):
		out.Status = "unknown"
	case err != nil:
		return toolError("%s: %v", autherr.StoreUnavailable, err)
	default:
		out.Stored = key
		out.Status = keyStatus(key, time.Now())
	}
	return successJSON(out)
}

func keyStatus(key *model.APIKey, now time.Time) string {
	switch {
	case !key.IsActive:
		return "inactive"
	case key.Expired(now):
		return "expired"
	default:
		return "active"
	}
}

func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	userID := int64(optionalInt(request, "user_id", 0))
	if userID < 0 {
		return toolError("user_id must be positive")
	}

	keys, err := s.store.ListAPIKeys(ctx, userID)
	if err != nil {
		return toolError("failed to list keys: %v", err)
	}
	if keys == nil {
		keys = []model.APIKey{}
	}
	return successJSON(model.ListResponse{Resource: keys, Meta: &model.ResponseMeta{Count: len(keys)}})
}

// tokenInfo adds the hash, which keysmith_revoke_token accepts, to the
// HTTP view of a verified token.
type tokenInfo struct {
	model.TokenInfo
	TokenHash string `json:"token_hash"`
}

func (s *MCPServer) handleValidateToken(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	token, err := requireString(request, "token")
	if err != nil {
		return toolError("%v", err)
	}

	v, _, err := s.gateway.ValidateToken(ctx, s.client, token, ratelimit.CategoryAuthentication)
	if err != nil {
		return authError(err)
	}
	return successJSON(tokenInfo{
		TokenInfo: model.TokenInfo{
			Valid:     true,
			UserID:    v.UserID,
			APIKeyID:  v.APIKeyID,
			Scopes:    v.Scopes,
			IssuedAt:  v.IssuedAt,
			ExpiresAt: v.ExpiresAt,
		},
		TokenHash: v.TokenHash,
	})
}

func (s *MCPServer) handleRevokeToken(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	token := optionalString(request, "token")
	hash := optionalString(request, "token_hash")
	if token == "" && hash == "" {
		return toolError("one of %q or %q is required", "token", "token_hash")
	}

	if _, err := s.gateway.RevokeToken(ctx, s.client, token, hash); err != nil {
		return authError(err)
	}
	s.logger.Info("token revoked via MCP", "by_hash", token == "")
	return successJSON(map[string]bool{"revoked": true})
}

func (s *MCPServer) handleUsageLog(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	limit := clamp(optionalInt(request, "limit", defaultUsageLimit), 1, maxUsageLimit)

	entries, err := s.store.ListUsageLog(ctx, limit)
	if err != nil {
		return toolError("failed to read usage log: %v", err)
	}
	if entries == nil {
		entries = []model.UsageLogEntry{}
	}
	return successJSON(model.ListResponse{Resource: entries, Meta: &model.ResponseMeta{Count: len(entries)}})
}
