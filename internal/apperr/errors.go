// Package apperr holds sentinel errors shared by the compile pipeline and
// its HTTP and MCP surfaces.
package apperr

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrJobActive = errors.New("a compile job is already running")
	// ErrSpaceInPath rejects targets TeX tooling cannot handle.
	ErrSpaceInPath    = errors.New("file name contains a space")
	ErrUnknownProgram = errors.New("unknown tex program")
	ErrUnknownEngine  = errors.New("unknown weave engine")
	// ErrUnavailable reports an optional component (history, a tool) that is not configured.
	ErrUnavailable = errors.New("not available")
)
