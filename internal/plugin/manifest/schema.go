package manifest

// Schema is the JSON Schema for structural manifest validation. Presence of
// the required identity fields is checked separately so that every missing
// field can be reported by name, including whitespace-only values.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[^/\\\\]*$",
      "description": "Unique plugin identifier"
    },
    "name": {
      "type": "string",
      "description": "Human-readable plugin name"
    },
    "version": {
      "type": "string",
      "description": "Dot, dash or plus separated version"
    },
    "main": {
      "type": "string",
      "description": "Entry script path relative to the package"
    },
    "description": {
      "type": "string"
    },
    "author": {
      "type": "string"
    },
    "hostVersion": {
      "type": "string",
      "description": "Semver constraint on the host version"
    },
    "permissions": {
      "type": "array",
      "items": { "type": "string" }
    },
    "defaultConfig": {
      "type": "object"
    }
  }
}`
