// Package tools holds the tool contract exposed to crew agents, a name
// registry, result caches (memory and Redis) and the Invoker that executes
// model-requested tool calls with caching, per-tool rate limits and timeouts.
package tools
