// Package llm defines the provider-agnostic types shared by the streaming
// orchestration engine: conversation messages, tools and tool calls, the
// normalized StreamFragment emitted by every generation adapter, and the
// narrow contracts (StreamAdapter, ToolExecutor) the engine consumes.
//
// Provider-specific wire shapes never leak past the adapter boundary; every
// adapter translates its vendor stream into StreamFragment values before the
// rest of the engine sees them.
package llm
