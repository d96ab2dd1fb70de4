package domain

// ClientInfo is the opaque client metadata supplied at session creation and
// stored verbatim on the session record.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerInfo identifies this server in initialize responses.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability advertises tool support in the capability descriptor.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Capabilities is the server capability descriptor returned by initialize.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeParams is the payload of an initialize request.
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion,omitempty"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// InitializeResult is the payload of an initialize response. It echoes the
// catalog's tool descriptors so clients can see the advertised surface
// without a follow-up tools/list call.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
	Tools           []*Tool      `json:"tools,omitempty"`
}

// Tool describes an invocable tool: its name, a human-readable description,
// and the JSON schema of its arguments.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

// ListToolsResult is the payload of a tools/list response.
type ListToolsResult struct {
	Tools []*Tool `json:"tools"`
}

// CallToolParams is the payload of a tools/call request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolContent is one content block inside a tool call result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the payload of a tools/call response. The tool outcome is
// JSON-encoded into a single text content block.
type CallToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// SearchResult is one ranked hit returned by the search service.
type SearchResult struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// ToolOutcome is the uniform result shape every tool handler produces.
// Application-level failures (argument validation, downstream errors) are
// reported with Success=false rather than a Go error, so the client always
// receives a well-formed tool result envelope.
type ToolOutcome struct {
	Success bool           `json:"success"`
	Results []SearchResult `json:"results,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Candidate is one scored hit from a vector searcher, carrying the raw
// per-channel similarity scores before hybrid weighting.
type Candidate struct {
	ID          string
	Title       string
	Content     string
	DenseScore  float64
	SparseScore float64
}

// Document is one indexable unit of domain knowledge.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}
