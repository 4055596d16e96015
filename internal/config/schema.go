package config

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// gatewaySchema is the structural contract for a configuration document.
// Unknown properties are rejected everywhere so typos fail loudly instead of
// being silently dropped.
const gatewaySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "gateway-config.json",
  "type": "object",
  "additionalProperties": false,
  "required": ["version", "routes", "services"],
  "properties": {
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "server": {"$ref": "#/$defs/server"},
    "routes": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/route"}},
    "services": {"type": "array", "items": {"$ref": "#/$defs/service"}},
    "features": {"type": "object", "additionalProperties": {"type": "boolean"}},
    "admin": {"$ref": "#/$defs/admin"}
  },
  "$defs": {
    "server": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 0, "maximum": 65535},
        "readTimeoutMs": {"type": "integer", "minimum": 0},
        "writeTimeoutMs": {"type": "integer", "minimum": 0},
        "idleTimeoutMs": {"type": "integer", "minimum": 0},
        "logging": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "level": {"enum": ["debug", "info", "warn", "error"]},
            "format": {"enum": ["json", "console"]}
          }
        }
      }
    },
    "admin": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "address": {"type": "string"}
      }
    },
    "route": {
      "type": "object",
      "additionalProperties": false,
      "required": ["id", "matcher", "target"],
      "properties": {
        "id": {"type": "string", "pattern": "^[a-zA-Z0-9-_]+$"},
        "matcher": {"$ref": "#/$defs/matcher"},
        "target": {"$ref": "#/$defs/target"},
        "policy": {"$ref": "#/$defs/policy"},
        "metadata": {"$ref": "#/$defs/metadata"}
      }
    },
    "matcher": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "pathPrefix": {"type": "string", "pattern": "^/"},
        "pathRegex": {"type": "string", "minLength": 1},
        "methods": {
          "type": "array",
          "items": {"enum": ["GET", "HEAD", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"]}
        },
        "headers": {"type": "object", "additionalProperties": {"type": "string"}},
        "query": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    },
    "target": {
      "type": "object",
      "additionalProperties": false,
      "required": ["serviceName"],
      "properties": {
        "serviceName": {"type": "string", "minLength": 1},
        "pathRewrite": {"type": "string"}
      }
    },
    "metadata": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string"},
        "tags": {"type": "array", "items": {"type": "string"}},
        "owner": {"type": "string"}
      }
    },
    "policy": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "auth": {"$ref": "#/$defs/auth"},
        "rateLimit": {"$ref": "#/$defs/rateLimit"},
        "circuitBreaker": {"$ref": "#/$defs/circuitBreaker"},
        "timeoutMs": {"type": "integer", "minimum": 0},
        "retry": {"$ref": "#/$defs/retry"},
        "cors": {"$ref": "#/$defs/cors"},
        "contextMapping": {"type": "array", "items": {"$ref": "#/$defs/contextMappingRule"}}
      }
    },
    "auth": {
      "type": "object",
      "additionalProperties": false,
      "required": ["enabled"],
      "properties": {
        "enabled": {"type": "boolean"},
        "jwt": {"$ref": "#/$defs/jwt"},
        "apiKey": {"$ref": "#/$defs/apiKey"},
        "oauth2": {"$ref": "#/$defs/oauth2"},
        "requiredRoles": {"type": "array", "items": {"type": "string"}},
        "requiredScopes": {"type": "array", "items": {"type": "string"}},
        "identityValidation": {"type": "boolean"}
      }
    },
    "jwt": {
      "type": "object",
      "additionalProperties": false,
      "required": ["enabled"],
      "properties": {
        "enabled": {"type": "boolean"},
        "issuer": {"type": "string"},
        "audience": {"type": "array", "items": {"type": "string"}},
        "jwksUri": {"type": "string"},
        "discoveryUrl": {"type": "string"},
        "algorithms": {
          "type": "array",
          "items": {"enum": ["HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384"]}
        },
        "secret": {"type": "string"},
        "publicKey": {"type": "string"},
        "keySetTtlSeconds": {"type": "integer", "minimum": 1},
        "clockToleranceSeconds": {"type": "integer", "minimum": 0}
      }
    },
    "apiKey": {
      "type": "object",
      "additionalProperties": false,
      "required": ["enabled"],
      "properties": {
        "enabled": {"type": "boolean"},
        "in": {"enum": ["header", "query"]},
        "name": {"type": "string", "minLength": 1},
        "scopes": {"type": "array", "items": {"type": "string"}}
      }
    },
    "oauth2": {
      "type": "object",
      "additionalProperties": false,
      "required": ["enabled"],
      "properties": {
        "enabled": {"type": "boolean"},
        "introspectionUrl": {"type": "string"},
        "clientId": {"type": "string"},
        "clientSecret": {"type": "string"}
      }
    },
    "rateLimit": {
      "type": "object",
      "additionalProperties": false,
      "required": ["enabled"],
      "properties": {
        "enabled": {"type": "boolean"},
        "tokensPerInterval": {"type": "integer", "minimum": 1},
        "intervalMs": {"type": "integer", "minimum": 1, "maximum": 86400000},
        "burstMultiplier": {"type": "number", "minimum": 1},
        "keys": {"type": "array", "items": {"enum": ["ip", "user", "tenant", "route"]}},
        "failOpen": {"type": "boolean"}
      }
    },
    "circuitBreaker": {
      "type": "object",
      "additionalProperties": false,
      "required": ["enabled"],
      "properties": {
        "enabled": {"type": "boolean"},
        "timeoutMs": {"type": "integer", "minimum": 1},
        "errorThresholdPercentage": {"type": "integer", "minimum": 1, "maximum": 100},
        "resetTimeoutMs": {"type": "integer", "minimum": 1}
      }
    },
    "retry": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "maxAttempts": {"type": "integer", "minimum": 0},
        "backoffMs": {"type": "integer", "minimum": 0},
        "retryOn": {"type": "array", "items": {"type": "string"}}
      }
    },
    "cors": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "allowedOrigins": {"type": "array", "items": {"type": "string"}},
        "allowedMethods": {"type": "array", "items": {"type": "string"}},
        "allowedHeaders": {"type": "array", "items": {"type": "string"}},
        "allowCredentials": {"type": "boolean"},
        "maxAgeSeconds": {"type": "integer", "minimum": 0}
      }
    },
    "contextMappingRule": {
      "type": "object",
      "additionalProperties": false,
      "required": ["claimPath", "headerName"],
      "properties": {
        "claimPath": {"type": "string", "minLength": 1},
        "headerName": {"type": "string", "pattern": "^[a-z0-9-]+$"},
        "required": {"type": "boolean"},
        "transform": {"enum": ["string", "json", "csv"]}
      }
    },
    "service": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name", "discovery"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "discovery": {"$ref": "#/$defs/discovery"},
        "loadBalancing": {"$ref": "#/$defs/loadBalancing"}
      }
    },
    "discovery": {
      "type": "object",
      "additionalProperties": false,
      "required": ["type"],
      "properties": {
        "type": {"enum": ["static", "dns", "kubernetes"]},
        "endpoints": {"type": "array", "items": {"type": "string"}},
        "namespace": {"type": "string"}
      }
    },
    "loadBalancing": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "algorithm": {"enum": ["round_robin", "least_connections", "random", "weighted"]},
        "weights": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 1}}
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(gatewaySchema))
	if err != nil {
		panic("config: invalid embedded schema: " + err.Error())
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("gateway-config.json", doc); err != nil {
		panic("config: add schema resource: " + err.Error())
	}
	schema, err := c.Compile("gateway-config.json")
	if err != nil {
		panic("config: compile schema: " + err.Error())
	}
	return schema
}
