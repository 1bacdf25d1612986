// Package mcp registers the hide-sis session tools on an MCP server, so
// agent clients can play sessions over the same engine the HTTP API uses.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/hidesis/internal/engine"
	"github.com/hazyhaar/pkg/audit"
	"github.com/hazyhaar/pkg/kit"
)

// NewServer creates an MCP server with the hide-sis tools registered.
func NewServer(eng *engine.Engine, auditLog audit.Logger) *mcp.Server {
	srv := mcp.NewServer(
		&mcp.Implementation{Name: "hidesis", Version: "0.1.0"},
		&mcp.ServerOptions{HasTools: true},
	)

	registerStartSession(srv, eng, auditLog)
	registerQuoteTurn(srv, eng, auditLog)
	registerCommitTurn(srv, eng, auditLog)
	registerFinalizeSession(srv, eng, auditLog)
	registerStartWorld(srv, eng, auditLog)
	registerFinalizeWorld(srv, eng, auditLog)
	registerGetConstants(srv, eng)

	return srv
}

// --- start_session ---

func registerStartSession(srv *mcp.Server, eng *engine.Engine, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*startSessionReq)
		mode := engine.Mode(r.Mode)
		if r.Mode == "" {
			mode = engine.ModeGuest
		}
		s, err := eng.StartSession(r.Wallet, mode, r.WorldID)
		if err != nil {
			return nil, err
		}
		node, err := eng.CurrentNode(s.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"session": s, "current_node": node, "truth_rate": eng.TargetRate()}, nil
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "start_session")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"wallet":   map[string]string{"type": "string", "description": "Wallet address (required for verified mode)"},
			"mode":     map[string]string{"type": "string", "description": "Trust mode: verified, guest, or bot_suspected"},
			"world_id": map[string]string{"type": "string", "description": "Open world to join (optional)"},
		},
	})
	tool := &mcp.Tool{Name: "start_session", Description: "Start a hide-sis session and receive the seed commitment", InputSchema: json.RawMessage(schema)}

	kit.RegisterMCPTool(srv, tool, endpoint, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := getArguments(req)
		r := &startSessionReq{
			Wallet:  stringArg(args, "wallet"),
			Mode:    stringArg(args, "mode"),
			WorldID: stringArg(args, "world_id"),
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type startSessionReq struct {
	Wallet  string `json:"wallet"`
	Mode    string `json:"mode"`
	WorldID string `json:"world_id"`
}

// --- quote_turn ---

func registerQuoteTurn(srv *mcp.Server, eng *engine.Engine, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*sessionRefReq)
		return eng.QuoteTurn(r.SessionID)
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "quote_turn")(endpoint)
	}

	tool := &mcp.Tool{Name: "quote_turn", Description: "Get the probability quote for the session's next turn", InputSchema: json.RawMessage(sessionRefSchema())}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSessionRef)
}

// --- commit_turn ---

func registerCommitTurn(srv *mcp.Server, eng *engine.Engine, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*commitTurnReq)
		return eng.CommitTurn(r.SessionID, r.ChoiceID)
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "commit_turn")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]string{"type": "string", "description": "Session ID"},
			"choice_id":  map[string]string{"type": "integer", "description": "Choice from the outstanding quote"},
		},
		"required": []string{"session_id", "choice_id"},
	})
	tool := &mcp.Tool{Name: "commit_turn", Description: "Commit a choice against the outstanding quote and reveal the outcome", InputSchema: json.RawMessage(schema)}

	kit.RegisterMCPTool(srv, tool, endpoint, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := getArguments(req)
		r := &commitTurnReq{
			SessionID: stringArg(args, "session_id"),
			ChoiceID:  intArg(args, "choice_id", 0),
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type commitTurnReq struct {
	SessionID string `json:"session_id"`
	ChoiceID  int    `json:"choice_id"`
}

// --- finalize_session ---

func registerFinalizeSession(srv *mcp.Server, eng *engine.Engine, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*sessionRefReq)
		return eng.FinalizeSession(r.SessionID)
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "finalize_session")(endpoint)
	}

	tool := &mcp.Tool{Name: "finalize_session", Description: "Finalize a session and get its ending summary", InputSchema: json.RawMessage(sessionRefSchema())}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSessionRef)
}

// --- start_world ---

func registerStartWorld(srv *mcp.Server, eng *engine.Engine, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*startWorldReq)
		return eng.StartWorld(r.Theme, r.Tags)
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "start_world")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"theme": map[string]string{"type": "string", "description": "World theme"},
			"tags":  map[string]any{"type": "array", "items": map[string]string{"type": "string"}, "description": "Optional tags"},
		},
	})
	tool := &mcp.Tool{Name: "start_world", Description: "Open a shared world for multiple sessions", InputSchema: json.RawMessage(schema)}

	kit.RegisterMCPTool(srv, tool, endpoint, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := getArguments(req)
		r := &startWorldReq{Theme: stringArg(args, "theme")}
		if tags, ok := args["tags"].([]any); ok {
			for _, t := range tags {
				if s, ok := t.(string); ok {
					r.Tags = append(r.Tags, s)
				}
			}
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type startWorldReq struct {
	Theme string   `json:"theme"`
	Tags  []string `json:"tags"`
}

// --- finalize_world ---

func registerFinalizeWorld(srv *mcp.Server, eng *engine.Engine, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*worldRefReq)
		return eng.FinalizeWorld(r.WorldID)
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "finalize_world")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"world_id": map[string]string{"type": "string", "description": "World ID"},
		},
		"required": []string{"world_id"},
	})
	tool := &mcp.Tool{Name: "finalize_world", Description: "Finalize a world: close member sessions and aggregate results", InputSchema: json.RawMessage(schema)}

	kit.RegisterMCPTool(srv, tool, endpoint, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := getArguments(req)
		r := &worldRefReq{WorldID: stringArg(args, "world_id")}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type worldRefReq struct {
	WorldID string `json:"world_id"`
}

// --- get_constants ---

func registerGetConstants(srv *mcp.Server, eng *engine.Engine) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		return map[string]any{
			"schema_version": eng.SchemaVersion(),
			"truth_rate":     eng.TargetRate(),
			"calibration":    eng.Calibration(),
		}, nil
	}

	schema, _ := json.Marshal(map[string]any{"type": "object", "properties": map[string]any{}})
	tool := &mcp.Tool{Name: "get_constants", Description: "Get the published constants and calibration counters", InputSchema: json.RawMessage(schema)}

	kit.RegisterMCPTool(srv, tool, endpoint, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &struct{}{}}, nil
	})
}

// --- shared ---

type sessionRefReq struct {
	SessionID string `json:"session_id"`
}

func sessionRefSchema() []byte {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]string{"type": "string", "description": "Session ID"},
		},
		"required": []string{"session_id"},
	})
	return schema
}

func decodeSessionRef(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	args := getArguments(req)
	return &kit.MCPDecodeResult{Request: &sessionRefReq{SessionID: stringArg(args, "session_id")}}, nil
}

func getArguments(req *mcp.CallToolRequest) map[string]any {
	args := map[string]any{}
	if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
		_ = json.Unmarshal(req.Params.Arguments, &args)
	}
	return args
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return def
	}
}
