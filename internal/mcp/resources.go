package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keysmith/internal/model"
)

const (
	keysURI         = "keysmith://keys"
	userKeysPrefix  = "keysmith://users/"
	userKeysSuffix  = "/keys"
	userKeysPattern = userKeysPrefix + "{user_id}" + userKeysSuffix
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// keysmith://keys: every issued key, newest first
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			keysURI,
			"Issued API Keys",
			mcp.WithResourceDescription(
				"All API keys known to keysmith with their display prefix, owner, "+
					"scopes, status and usage counters. Never includes key text or hashes.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)

	// -------------------------------------------------------------------
	// keysmith://users/{user_id}/keys: keys owned by one user (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			userKeysPattern,
			"User API Keys",
			mcp.WithTemplateDescription("API keys owned by a single user."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleUserKeysResource,
	)
}

func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	return s.keysContents(ctx, keysURI, 0)
}

func (s *MCPServer) handleUserKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	raw := strings.TrimSuffix(strings.TrimPrefix(uri, userKeysPrefix), userKeysSuffix)
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 || !strings.HasPrefix(uri, userKeysPrefix) {
		return nil, fmt.Errorf("invalid resource URI %q: expected %s", uri, userKeysPattern)
	}
	return s.keysContents(ctx, uri, userID)
}

func (s *MCPServer) keysContents(ctx context.Context, uri string, userID int64) ([]mcp.ResourceContents, error) {
	keys, err := s.store.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	type keyInfo struct {
		ID         int64          `json:"id"`
		UserID     int64          `json:"user_id"`
		KeyPrefix  string         `json:"key_prefix"`
		Version    int            `json:"version"`
		Scopes     model.ScopeSet `json:"scopes"`
		Status     string         `json:"status"`
		UsageCount int64          `json:"usage_count"`
		LastUsedAt *time.Time     `json:"last_used_at,omitempty"`
	}

	now := time.Now()
	items := make([]keyInfo, len(keys))
	for i := range keys {
		k := &keys[i]
		items[i] = keyInfo{
			ID:         k.ID,
			UserID:     k.UserID,
			KeyPrefix:  k.KeyPrefix,
			Version:    k.Version,
			Scopes:     k.Scopes,
			Status:     keyStatus(k, now),
			UsageCount: k.UsageCount,
			LastUsedAt: k.LastUsedAt,
		}
	}

	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keys: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
