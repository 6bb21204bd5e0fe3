// Package bundled embeds the static catalog shipped with the binary.
package bundled

import _ "embed"

// Combos is the bundled combos.json document.
//
//go:embed combos.json
var Combos []byte
