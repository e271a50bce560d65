// Package workspace manages the private working directories products are
// built in.
//
// Each build gets a fresh directory (e.g. prebake-foo-123456) under the
// manager's base directory. When a build finishes its directory is retired:
// renamed to obsolete-N at once, so the name can never be picked up by a
// later build, and deleted later on the scheduler with retries.
package workspace
