// Package configs embeds the commented configuration template written by
// "ragcore config init".
package configs

import _ "embed"

// ConfigTemplate is a commented configuration listing every option with
// its default. It is valid for both the user and the project config file.
//
//go:embed ragcore.example.yaml
var ConfigTemplate string
