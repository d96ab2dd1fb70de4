// Package usecases implements the application logic of the retrieval server:
// the tool catalog and the JSON-RPC dispatcher.
package usecases

import (
	"context"
	"sync"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
)

// ToolHandler executes one tool call. Handlers never return a Go error:
// argument validation and downstream failures are reported inside the
// outcome with Success=false.
type ToolHandler func(ctx context.Context, args map[string]interface{}) *domain.ToolOutcome

type registeredTool struct {
	tool    *domain.Tool
	handler ToolHandler
}

// Catalog is an in-memory tool registry implementing domain.ToolCatalog.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
	order []string
}

// NewCatalog creates an empty tool catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool and its handler. Registering the same name twice
// replaces the handler but keeps the original listing position.
func (c *Catalog) Register(tool *domain.Tool, handler ToolHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tools[tool.Name]; !ok {
		c.order = append(c.order, tool.Name)
	}
	c.tools[tool.Name] = &registeredTool{tool: tool, handler: handler}
}

// ListTools returns the registered tool descriptors in registration order.
func (c *Catalog) ListTools(ctx context.Context) []*domain.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tools := make([]*domain.Tool, 0, len(c.order))
	for _, name := range c.order {
		tools = append(tools, c.tools[name].tool)
	}
	return tools
}

// Invoke runs the named tool. An unknown name returns ToolNotFoundError;
// every other failure surfaces inside the outcome.
func (c *Catalog) Invoke(ctx context.Context, name string, args map[string]interface{}) (*domain.ToolOutcome, error) {
	c.mu.RLock()
	entry, ok := c.tools[name]
	c.mu.RUnlock()
	if !ok {
		return nil, domain.NewToolNotFoundError(name)
	}
	return entry.handler(ctx, args), nil
}
