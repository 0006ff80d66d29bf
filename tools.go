//go:build tools

// Package tools imports development dependencies to ensure they're tracked in go.mod.
// Install tools with: go install -tags tools ./...
package tools

import (
	// Linting and formatting
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/goimports"

	// Testing tools
	_ "gotest.tools/gotestsum"
)
