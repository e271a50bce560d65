// Package errors provides the classified error primitives used across prebake.
//
// Every failure that crosses a package boundary is a ClassifiedError carrying
// a category, a severity, a retry strategy and structured context. Callers
// build them through the fluent ErrorBuilder:
//
//	err := errors.ToolError("tool exited with non-zero status").
//		WithContext("product", name).
//		WithContext("tool", action.Tool).
//		WithCause(runErr).
//		Build()
//
// The categories mirror the engine's failure model: configuration problems
// surface at load time, unresolved targets are reported without retry, tool
// and process failures fail the product being built and nothing else.
package errors
