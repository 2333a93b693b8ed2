// Package llm defines the chat-completion contract used by crew agents:
// messages, tool schemas, tool calls and token usage. Provider adapters live
// in sub-packages.
package llm
