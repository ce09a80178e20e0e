package api

// Parameter schemas, one per action. The action key itself is removed
// before validation, so every schema describes the remaining fields only.
const (
	engineNamePattern = `"type": "string", "pattern": "^[a-z0-9][a-z0-9_-]*$", "maxLength": 64`

	schemaNoParams = `{
	"type": "object",
	"additionalProperties": false
}`

	schemaEngine = `{
	"type": "object",
	"properties": {
		"engine": {` + engineNamePattern + `}
	},
	"required": ["engine"],
	"additionalProperties": false
}`

	schemaRecentTransactions = `{
	"type": "object",
	"properties": {
		"limit": {"type": "integer", "minimum": 1, "maximum": 100}
	},
	"additionalProperties": false
}`

	schemaListRuns = `{
	"type": "object",
	"properties": {
		"limit": {"type": "integer", "minimum": 1, "maximum": 1000}
	},
	"additionalProperties": false
}`

	schemaRunEngine = `{
	"type": "object",
	"properties": {
		"engine": {` + engineNamePattern + `},
		"params": {"type": "object"}
	},
	"required": ["engine"],
	"additionalProperties": false
}`

	schemaActivateEngines = `{
	"type": "object",
	"properties": {
		"engines": {
			"type": "array",
			"items": {` + engineNamePattern + `},
			"minItems": 1,
			"maxItems": 50,
			"uniqueItems": true
		}
	},
	"required": ["engines"],
	"additionalProperties": false
}`

	schemaRecordCorrection = `{
	"type": "object",
	"properties": {
		"engine": {` + engineNamePattern + `},
		"amount": {
			"oneOf": [
				{"type": "string", "pattern": "^[+-]?[0-9]+(\\.[0-9]{1,4})?$"},
				{"type": "number"}
			]
		},
		"description": {"type": "string", "minLength": 1, "maxLength": 500}
	},
	"required": ["engine", "amount", "description"],
	"additionalProperties": false
}`
)
