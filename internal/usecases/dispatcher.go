package usecases

import (
	"context"
	"encoding/json"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/logging"
)

// ProtocolVersion is the protocol revision advertised by initialize.
const ProtocolVersion = "2024-11-05"

// Dispatcher maps inbound requests to handlers and produces responses. It is
// session-agnostic: session minting and stream delivery belong to the
// transport layer.
type Dispatcher struct {
	serverName    string
	serverVersion string
	catalog       domain.ToolCatalog
	logger        *logging.Logger
}

// NewDispatcher creates a dispatcher over the given tool catalog.
func NewDispatcher(name, version string, catalog domain.ToolCatalog, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		serverName:    name,
		serverVersion: version,
		catalog:       catalog,
		logger:        logger,
	}
}

// Dispatch handles one classified message. Requests yield a response;
// notifications and responses yield nil. Malformed messages yield an
// InvalidRequest error response so batch siblings are unaffected.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.Message) *domain.JSONRPCResponse {
	switch msg.Kind {
	case domain.KindRequest:
		return d.handleRequest(ctx, msg.Request)
	case domain.KindNotification:
		d.logger.Debug("notification received", logging.Fields{"method": msg.Request.Method})
		return nil
	case domain.KindResponse:
		// Client replies to server-initiated messages are logged only; this
		// server does not issue requests toward the client.
		d.logger.Debug("client response received", logging.Fields{"id": msg.Response.ID})
		return nil
	default:
		return domain.CreateErrorResponse(nil, domain.ErrCodeInvalidRequest, "invalid request")
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, req *domain.JSONRPCRequest) *domain.JSONRPCResponse {
	switch req.Method {
	case domain.MethodInitialize:
		return d.handleInitialize(ctx, req)
	case domain.MethodListTools:
		return domain.CreateResponse(req.ID, domain.ListToolsResult{
			Tools: d.catalog.ListTools(ctx),
		})
	case domain.MethodCallTool:
		return d.handleCallTool(ctx, req)
	default:
		return domain.CreateErrorResponse(req.ID, domain.ErrCodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (d *Dispatcher) handleInitialize(ctx context.Context, req *domain.JSONRPCRequest) *domain.JSONRPCResponse {
	return domain.CreateResponse(req.ID, domain.InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo: domain.ServerInfo{
			Name:    d.serverName,
			Version: d.serverVersion,
		},
		Capabilities: domain.Capabilities{
			Tools: &domain.ToolsCapability{},
		},
		Tools: d.catalog.ListTools(ctx),
	})
}

func (d *Dispatcher) handleCallTool(ctx context.Context, req *domain.JSONRPCRequest) *domain.JSONRPCResponse {
	var params domain.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return domain.CreateErrorResponse(req.ID, domain.ErrCodeInvalidParams, "invalid params")
	}
	if params.Name == "" {
		return domain.CreateErrorResponse(req.ID, domain.ErrCodeInvalidParams, "tool name is required")
	}

	outcome, err := d.catalog.Invoke(ctx, params.Name, params.Arguments)
	if err != nil {
		return domain.CreateErrorResponse(req.ID, domain.ErrCodeMethodNotFound, err.Error())
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		d.logger.Error("marshalling tool outcome", logging.Fields{"tool": params.Name, "error": err.Error()})
		return domain.CreateErrorResponse(req.ID, domain.ErrCodeInternal, "internal server error")
	}

	return domain.CreateResponse(req.ID, domain.CallToolResult{
		Content: []domain.ToolContent{{Type: "text", Text: string(payload)}},
		IsError: !outcome.Success,
	})
}
