// Package model defines the provider-agnostic boundary between the tool loop
// and language model vendors.
//
// Core goals:
//   - Reduce every vendor stream to one uniform Event model (text deltas and
//     function-call item lifecycle events)
//   - Keep the wire framing (package wire) separate from vendor semantics
//     (a Dialect per provider)
//   - Let each provider project tool definitions into its own schema shape
//
// Concrete bindings live in sub-packages (openai, ollama, anthropic). Each one
// owns an explicitly constructed vendor SDK client that supplies credentials
// and transport; SDK retries are disabled so transport failures surface
// immediately.
package model
