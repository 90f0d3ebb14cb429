// Package configs embeds the configuration template written by
// 'recall config init'. Edit recall.example.yaml and rebuild to change it.
package configs

import _ "embed"

// ConfigTemplate is the commented default configuration.
//
//go:embed recall.example.yaml
var ConfigTemplate string
