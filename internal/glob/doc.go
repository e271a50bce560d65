// Package glob implements the path pattern algebra used to describe which
// files a build step consumes and produces.
//
// A Pattern is a sequence of parts: literal text, the separator "/", "*"
// (any run of characters within one path segment) and "**" (any run of
// characters, including separators). Wildcards may be named, as in
// "src/*(dir)/*.c", in which case a match binds the name to the text the
// wildcard consumed.
//
// Set indexes patterns by literal prefix and trailing extension so that
// "which patterns match this path" does not scan every pattern.
//
// Relation pairs input and output patterns whose holes must bind
// consistently, and solves for concrete instances of a parameterized
// product.
package glob
