package schema

import _ "embed"

// TetherV1Schema contains the JSON schema for launcher configuration files.
//
//go:embed tether.v1.json
var TetherV1Schema []byte
