package schema

// Baked-in schemas for the three document shapes the runtime itself
// produces and consumes. Tool input/output schemas are never baked in;
// they are supplied per-call from the tool's manifest.

// PlanSchema is the JSON Schema for a Kernel Plan document.
var PlanSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["plan_id", "schema_version", "goal", "steps"],
  "properties": {
    "plan_id": {"type": "string", "minLength": 1},
    "schema_version": {"const": "0.1"},
    "goal": {"type": "string", "minLength": 1},
    "assumptions": {"type": "array", "items": {"type": "string"}},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["step_id", "title", "tool_ref", "input", "success_criteria", "failure_policy", "timeout_ms", "max_retries"],
        "properties": {
          "step_id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "tool_ref": {
            "type": "object",
            "required": ["name"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "version_range": {"type": "string"}
            }
          },
          "input": {"type": "object"},
          "input_from": {"type": "object"},
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "success_criteria": {"type": "array", "minItems": 1, "items": {"type": "string"}},
          "failure_policy": {"enum": ["abort", "replan", "continue"]},
          "timeout_ms": {"type": "integer", "minimum": 100},
          "max_retries": {"type": "integer", "minimum": 0, "maximum": 10}
        }
      }
    },
    "artifacts": {"type": "object"},
    "created_at": {"type": "string"}
  }
}`)

// PluginManifestSchema is the JSON Schema for plugin.yaml (decoded to JSON
// before validation).
var PluginManifestSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "version", "entry"],
  "properties": {
    "id": {"type": "string", "maxLength": 64, "pattern": "^[a-z0-9_-]+$"},
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "entry": {"type": "string", "minLength": 1},
    "permissions": {"type": "array", "items": {"type": "string"}},
    "provides": {
      "type": "object",
      "properties": {
        "tools": {"type": "array"},
        "hooks": {"type": "array"},
        "routes": {"type": "array"},
        "commands": {"type": "array"},
        "planners": {"type": "array"},
        "services": {"type": "array"}
      }
    }
  }
}`)

// JournalEventSchema is the JSON Schema for a persisted journal event.
var JournalEventSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_id", "seq", "timestamp", "session_id", "type", "payload"],
  "properties": {
    "event_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 0},
    "timestamp": {"type": "string"},
    "session_id": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "payload": {"type": "object"},
    "hash_prev": {"type": "string"},
    "hash_self": {"type": "string"}
  }
}`)

// ToolManifestSchema is the JSON Schema for a ToolManifest document.
var ToolManifestSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "runner", "input_schema", "output_schema", "timeout_ms"],
  "properties": {
    "name": {"type": "string", "maxLength": 64, "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$"},
    "version": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "runner": {"enum": ["internal", "subprocess", "http"]},
    "input_schema": {"type": "object"},
    "output_schema": {"type": "object"},
    "permissions": {"type": "array", "items": {"type": "string"}},
    "timeout_ms": {"type": "integer", "minimum": 100, "maximum": 600000},
    "supports": {
      "type": "object",
      "properties": {
        "mock": {"type": "boolean"},
        "dry_run": {"type": "boolean"}
      }
    },
    "mock_responses": {"type": "object"}
  }
}`)
