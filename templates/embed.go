// Package templates embeds the files planguard init writes into a project.
package templates

import "embed"

//go:embed config.yaml example_plan.yaml
var FS embed.FS
