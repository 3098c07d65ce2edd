package config

import "embed"

const snapshotSchemaFile = "schema/snapshot.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
