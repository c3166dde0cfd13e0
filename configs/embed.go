// Package configs provides the embedded configuration template.
//
// The template is embedded at build time with go:embed so it ships in
// every distribution. 'tribridrag init' writes it out as a starting
// point; internal/config supplies the actual defaults, so the template
// is documentation-first and every field in it is optional.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// 'tribridrag init'.
//
//go:embed config.example.yaml
var ConfigTemplate string
