package mcp

import (
	"strings"
	"sync"
)

// ToSafeName converts an MCP tool name into a function name providers accept.
// Example: "gmail.messages.list" -> "gmail_messages_list"
func ToSafeName(original string) string {
	return strings.ReplaceAll(original, ".", "_")
}

// NameAdapter remembers the mapping between safe and original tool names.
type NameAdapter struct {
	mu             sync.RWMutex
	safeToOriginal map[string]string
	originalToSafe map[string]string
}

func NewNameAdapter() *NameAdapter {
	return &NameAdapter{
		safeToOriginal: make(map[string]string),
		originalToSafe: make(map[string]string),
	}
}

// ToOriginalName converts a safe name back to the original MCP tool name.
func (a *NameAdapter) ToOriginalName(safe string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	original, ok := a.safeToOriginal[safe]
	return original, ok
}

// SafeName returns the safe name for original, recording the mapping.
// A prefix, when set, namespaces tools from different servers.
func (a *NameAdapter) SafeName(prefix, original string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := prefix + "\x00" + original
	if safe, ok := a.originalToSafe[key]; ok {
		return safe
	}
	safe := ToSafeName(original)
	if prefix != "" {
		safe = ToSafeName(prefix) + "_" + safe
	}
	a.originalToSafe[key] = safe
	a.safeToOriginal[safe] = original
	return safe
}
