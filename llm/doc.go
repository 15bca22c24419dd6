// Package llm wraps the DashScope OpenAI-compatible chat completion API
// behind a small request/response surface.
//
// Client supports blocking invocation via Invoke and streaming invocation
// via InvokeStream, which delivers Fragment values on a channel and
// terminates with exactly one Done or Err fragment. Messages can carry
// inline image URLs for vision models.
package llm
