//go:build tools

// Package tools pins the versions of developer tools run with go run.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
