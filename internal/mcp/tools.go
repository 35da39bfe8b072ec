package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/overlay/internal/services/users/client"
	"github.com/louisbranch/overlay/internal/services/users/domain"
)

// toolTimeout caps each registry call made on behalf of an MCP request.
const toolTimeout = 5 * time.Second

// ViewUserInput represents the MCP tool input for a user lookup.
type ViewUserInput struct {
	Addr string `json:"addr" jsonschema:"account address"`
}

// UserRecordPayload represents one account's roles and project history.
type UserRecordPayload struct {
	IsCurator         bool     `json:"is_curator" jsonschema:"whether the account holds the curator role"`
	IsValidator       bool     `json:"is_validator" jsonschema:"whether the account holds the validator role"`
	CuratedProjects   []string `json:"curated_projects" jsonschema:"projects curated by the account"`
	ValidatedProjects []string `json:"validated_projects" jsonschema:"projects validated by the account"`
}

// ViewUserResult represents the MCP tool output for a user lookup.
type ViewUserResult struct {
	Address string            `json:"address" jsonschema:"account address"`
	Record  UserRecordPayload `json:"record" jsonschema:"roles and project history"`
}

// ViewUsersInput represents the (empty) MCP tool input for the full listing.
type ViewUsersInput struct{}

// ViewUsersResult represents the MCP tool output for the full listing.
type ViewUsersResult struct {
	Users []ViewUserResult `json:"users" jsonschema:"every stored record, ordered by address"`
}

// ListEventsInput represents the MCP tool input for journal listings.
type ListEventsInput struct {
	Filter     string `json:"filter,omitempty" jsonschema:"journal filter expression"`
	PageSize   int    `json:"page_size,omitempty" jsonschema:"events per page"`
	Cursor     int64  `json:"cursor,omitempty" jsonschema:"resume after this event seq"`
	Descending bool   `json:"descending,omitempty" jsonschema:"newest first"`
}

// EventPayload represents one committed registry call.
type EventPayload struct {
	Seq        int64  `json:"seq" jsonschema:"journal sequence number"`
	Ts         string `json:"ts" jsonschema:"commit timestamp"`
	Entrypoint string `json:"entrypoint" jsonschema:"dispatched entrypoint"`
	Origin     string `json:"origin" jsonschema:"origin account"`
	SenderKind string `json:"sender_kind" jsonschema:"immediate sender kind"`
	SenderID   string `json:"sender_id" jsonschema:"immediate sender id"`
	Params     string `json:"params,omitempty" jsonschema:"call params as JSON"`
}

// ListEventsResult represents the MCP tool output for journal listings.
type ListEventsResult struct {
	Events     []EventPayload `json:"events" jsonschema:"one page of committed calls"`
	HasNext    bool           `json:"has_next" jsonschema:"whether another page exists"`
	NextCursor int64          `json:"next_cursor,omitempty" jsonschema:"cursor for the next page"`
	TotalCount int64          `json:"total_count" jsonschema:"total matching events"`
}

func viewUserTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "users_view_user",
		Description: "Shows one account's roles and project history",
	}
}

func viewUsersTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "users_view_users",
		Description: "Lists every stored registry record",
	}
}

func listEventsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "users_list_events",
		Description: "Lists committed registry calls from the journal",
	}
}

func rolesResource() *mcp.Resource {
	return &mcp.Resource{
		Name:        "registry_roles",
		Title:       "Registry roles",
		Description: "Readable listing of every account's roles and project history",
		MIMEType:    "application/json",
		URI:         "users://registry/roles",
	}
}

func viewUserHandler(registry *client.Client) mcp.ToolHandlerFor[ViewUserInput, ViewUserResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ViewUserInput) (*mcp.CallToolResult, ViewUserResult, error) {
		runCtx, cancel := context.WithTimeout(ctx, toolTimeout)
		defer cancel()

		entry, err := registry.ViewUser(runCtx, input.Addr)
		if err != nil {
			return nil, ViewUserResult{}, fmt.Errorf("view user failed: %w", err)
		}
		return nil, userEntryPayload(entry), nil
	}
}

func viewUsersHandler(registry *client.Client) mcp.ToolHandlerFor[ViewUsersInput, ViewUsersResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ViewUsersInput) (*mcp.CallToolResult, ViewUsersResult, error) {
		runCtx, cancel := context.WithTimeout(ctx, toolTimeout)
		defer cancel()

		users, err := registry.ViewUsers(runCtx)
		if err != nil {
			return nil, ViewUsersResult{}, fmt.Errorf("view users failed: %w", err)
		}
		return nil, usersPayload(users), nil
	}
}

func listEventsHandler(registry *client.Client) mcp.ToolHandlerFor[ListEventsInput, ListEventsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListEventsInput) (*mcp.CallToolResult, ListEventsResult, error) {
		runCtx, cancel := context.WithTimeout(ctx, toolTimeout)
		defer cancel()

		page, err := registry.ListEvents(runCtx, client.ListEventsRequest{
			Filter:     input.Filter,
			PageSize:   input.PageSize,
			Cursor:     input.Cursor,
			Descending: input.Descending,
		})
		if err != nil {
			return nil, ListEventsResult{}, fmt.Errorf("list events failed: %w", err)
		}

		result := ListEventsResult{
			Events:     make([]EventPayload, 0, len(page.Events)),
			HasNext:    page.HasNext,
			NextCursor: page.NextCursor,
			TotalCount: page.TotalCount,
		}
		for _, evt := range page.Events {
			payload := EventPayload{
				Seq:        evt.Seq,
				Ts:         evt.Ts,
				Entrypoint: evt.Entrypoint,
				Origin:     evt.Origin,
				SenderKind: evt.SenderKind,
				SenderID:   evt.SenderID,
			}
			if len(evt.Params) > 0 {
				payload.Params = string(evt.Params)
			}
			result.Events = append(result.Events, payload)
		}
		return nil, result, nil
	}
}

func rolesResourceHandler(registry *client.Client) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if registry == nil {
			return nil, fmt.Errorf("registry client is not configured")
		}

		uri := rolesResource().URI
		if req != nil && req.Params != nil && req.Params.URI != "" {
			uri = req.Params.URI
		}

		runCtx, cancel := context.WithTimeout(ctx, toolTimeout)
		defer cancel()

		users, err := registry.ViewUsers(runCtx)
		if err != nil {
			return nil, fmt.Errorf("list registry roles: %w", err)
		}

		data, err := json.MarshalIndent(usersPayload(users), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal registry roles: %w", err)
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "application/json",
					Text:     string(data),
				},
			},
		}, nil
	}
}

func userEntryPayload(entry domain.UserEntry) ViewUserResult {
	return ViewUserResult{
		Address: string(entry.Address),
		Record: UserRecordPayload{
			IsCurator:         entry.Record.IsCurator,
			IsValidator:       entry.Record.IsValidator,
			CuratedProjects:   entry.Record.CuratedProjects,
			ValidatedProjects: entry.Record.ValidatedProjects,
		},
	}
}

func usersPayload(users []domain.UserEntry) ViewUsersResult {
	result := ViewUsersResult{Users: make([]ViewUserResult, 0, len(users))}
	for _, entry := range users {
		result.Users = append(result.Users, userEntryPayload(entry))
	}
	sort.Slice(result.Users, func(i, j int) bool {
		return result.Users[i].Address < result.Users[j].Address
	})
	return result
}
