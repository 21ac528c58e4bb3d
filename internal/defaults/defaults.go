// Package defaults provides embedded starter files for the homelab init
// subcommand.
package defaults

import _ "embed"

// ConfigYAML is the annotated example configuration.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// EnvExample lists the secrets config.yaml expects from .env.
//
//go:embed env.example
var EnvExample []byte
