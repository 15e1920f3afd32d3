// Package ai provides the model invocation layer of workerkit: a unified
// Model interface over text generation providers (OpenAI, Anthropic, mocks)
// plus a Binding with high-level helpers for synchronous generation
// (GenerateText), incremental streaming (StreamText) and schema constrained
// structured output (GenerateObject), including a bounded tool calling loop.
//
// The Model interface streams responses over channels so that callers can
// begin delivering output before generation completes. Providers live in
// subpackages (ai/openai, ai/anthropic) and adapt their SDK message formats
// to the normalized Request/Response structures defined here.
package ai
