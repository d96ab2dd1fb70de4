package domain

// Built-in JSON-RPC method names served by the dispatcher.
const (
	MethodInitialize  = "initialize"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
	MethodInitialized = "notifications/initialized"
)
