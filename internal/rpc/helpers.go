package rpc

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	apperrors "github.com/loistio/loist-mcp/internal/errors"
)

// jsonResult marshals v as the tool's text result payload.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

// errorResult renders err as the §6 failure envelope, never as a transport
// error — callers distinguish success/failure via the envelope's
// "success" field, not via an MCP-level error.
func errorResult(err error) *mcp.CallToolResult {
	b, marshalErr := json.Marshal(apperrors.ToEnvelope(err))
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(b))
}

// intArg reads a numeric argument that may have arrived as a JSON float64,
// falling back to def when absent or the wrong type.
func intArg(args map[string]any, name string, def int) int {
	if args == nil {
		return def
	}
	if v, ok := args[name].(float64); ok {
		return int(v)
	}
	return def
}
