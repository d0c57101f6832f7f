package policy

import _ "embed"

// DefaultModule is the built-in deny-rule set; internal/config overrides it
// with an operator-supplied Rego file when one is configured.
//
//go:embed default.rego
var DefaultModule string
