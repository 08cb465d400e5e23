// Package cmd implements the command-line interface of dProxy.
//
// The package is organized into several subpackages:
//
//   - serve: Command for starting and configuring the proxy
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dproxy -help for a list of all commands.
package cmd
