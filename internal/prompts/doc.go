// Package prompts holds the fixed text the assistant sends to, or returns
// in place of, the model.
//
// Prompt text lives in Go code rather than config so that it ships with
// the binary and can be checked by tests.
package prompts
