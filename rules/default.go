package rules

import "embed"

// Embedded holds the rulesets shipped with the library, mapping
// advertised command classes to capability implementations.
//
//go:embed definitions/*.json
var Embedded embed.FS
