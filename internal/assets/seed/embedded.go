// Package seedassets provides the embedded demo fixture for standalone binary behavior.
//
// The fixture is embedded at compile time so `batchlens serve --demo` works
// regardless of the working directory or installation location.
package seedassets

import _ "embed"

// DemoFixture seeds the in-memory backend with a handful of hosts and jobs in
// mixed states.
//
//go:embed demo.yaml
var DemoFixture []byte
