// Package configs embeds the configuration templates written by
// `cgrep init`.
package configs

import _ "embed"

// ProjectConfigTemplate is the commented .cgrep.yaml written at the project
// root. Its values match the built-in defaults.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
