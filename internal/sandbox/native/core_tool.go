// Package native loads code-signed, in-process core tools built as Go
// plugins (stdlib "plugin"), running the same four-gate verification
// sequence as the WASM runtime before a tool's Start is ever called.
package native

import (
	"context"
	"encoding/json"
)

// CoreTool is the interface every native core tool's plugin .so must
// export as a package-level symbol named "Tool".
type CoreTool interface {
	Name() string
	Version() string
	Start(ctx context.Context, core CoreContext) error
	Stop(ctx context.Context) error
	Handle(ctx context.Context, input ToolInput) (ToolOutput, error)
}

// ToolInput is the structured argument a registry dispatch passes to a
// core tool's Handle.
type ToolInput struct {
	Name      string
	Arguments json.RawMessage
}

// ToolOutput is a core tool's structured result.
type ToolOutput struct {
	Result json.RawMessage
	Error  string
}

// CoreContext is the sole API surface a core tool gets for interacting
// with the engine: capability handles, not direct references to engine
// internals, so a tool can only do what its handle set allows.
type CoreContext struct {
	Agent   AgentHandle
	DB      DBHandle
	Config  ConfigHandle
	Crypto  CryptoHandle
	Network NetworkHandle
	Bus     BusHandle
}

// AgentHandle lets a core tool submit tasks and query their status
// without reaching into the agent core directly.
type AgentHandle interface {
	SubmitTask(ctx context.Context, input string) (taskID string, err error)
	TaskStatus(ctx context.Context, taskID string) (status string, err error)
}

// DBHandle exposes read-only query access to the persisted store. Only
// SELECT statements are accepted; the implementation is responsible for
// rejecting anything else.
type DBHandle interface {
	Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error)
}

// ConfigHandle exposes read-only configuration lookups.
type ConfigHandle interface {
	Get(key string) (interface{}, bool)
	GetString(key string) (string, bool)
	GetInt(key string) (int64, bool)
	GetBool(key string) (bool, bool)
}

// CryptoHandle exposes signing, verification, and secret retrieval —
// never the engine's private key material itself.
type CryptoHandle interface {
	Sign(data []byte) (string, error)
	Verify(taggedSig string, data []byte) (bool, error)
	GetSecret(ctx context.Context, key string) (string, error)
	ScrubSecrets(text string) string
}

// NetworkHandle exposes outbound HTTP, routed through the same
// policy/allowlist checks as every other egress path.
type NetworkHandle interface {
	HTTPGet(ctx context.Context, url string) ([]byte, error)
	HTTPPost(ctx context.Context, url string, body []byte) ([]byte, error)
}

// BusHandle exposes pub/sub against the engine's event bus.
type BusHandle interface {
	Publish(topic string, payload interface{})
	Subscribe(topicPrefix string) <-chan interface{}
}
