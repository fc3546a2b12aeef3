package protocol

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const idProperty = `"id": {"type": "string", "minLength": 1}`

// per-type JSON schemas; fields not listed are allowed and ignored
var schemaSources = map[MessageType]string{
	TypeRegister: `{
		"type": "object",
		"properties": {"source": {"type": "string"}}
	}`,
	TypeRegistered: `{
		"type": "object",
		"properties": {"sessionId": {"type": "string"}, "sessionName": {"type": "string"}}
	}`,
	TypeCommand: `{
		"type": "object",
		"required": ["id", "action", "params"],
		"properties": {
			` + idProperty + `,
			"action": {"type": "string", "minLength": 1},
			"params": {"type": "object"}
		}
	}`,
	TypeResponse: `{
		"type": "object",
		"required": ["id", "success"],
		"properties": {
			` + idProperty + `,
			"success": {"type": "boolean"},
			"message": {"type": "string"},
			"error": {"type": "string"},
			"nodeId": {"type": "string"}
		}
	}`,
	TypePing: `{
		"type": "object",
		"required": ["id"],
		"properties": {` + idProperty + `}
	}`,
	TypePong: `{
		"type": "object",
		"required": ["id"],
		"properties": {` + idProperty + `}
	}`,
	TypeWelcome: `{"type": "object"}`,
	TypeError: `{
		"type": "object",
		"properties": {"error": {"type": "string"}, "message": {"type": "string"}}
	}`,
	TypeListSessions: `{"type": "object"}`,
	TypeSessionsList: `{
		"type": "object",
		"properties": {
			"sessions": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["sessionId", "name", "port"],
					"properties": {
						"sessionId": {"type": "string"},
						"name": {"type": "string"},
						"port": {"type": "integer"},
						"isConnected": {"type": "boolean"}
					}
				}
			}
		}
	}`,
	TypeConnectSession: `{
		"type": "object",
		"required": ["sessionId"],
		"properties": {"sessionId": {"type": "string", "minLength": 1}}
	}`,
	TypeSessionConnected: `{
		"type": "object",
		"required": ["success"],
		"properties": {
			"success": {"type": "boolean"},
			"sessionId": {"type": "string"},
			"sessionName": {"type": "string"},
			"error": {"type": "string"}
		}
	}`,
}

var schemas = compileSchemas()

func compileSchemas() map[MessageType]*gojsonschema.Schema {
	compiled := make(map[MessageType]*gojsonschema.Schema, len(schemaSources))
	for msgType, src := range schemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("invalid schema for %s: %s", msgType, err))
		}
		compiled[msgType] = schema
	}
	return compiled
}

// validateShape checks buf against the schema registered for msgType and
// returns the list of violations, if any
func validateShape(msgType MessageType, buf []byte) ([]string, error) {
	schema, ok := schemas[msgType]
	if !ok {
		return nil, nil
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(buf))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return violations, nil
}
