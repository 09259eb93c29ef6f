// Package docs holds the OpenAPI 2.0 document for the webhook gateway and
// the admin API. It mirrors the godoc annotations on the handlers; rebuild
// it with `swag init -g internal/http/router.go -o docs` after changing them.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/webhooks/transcript": {
            "post": {
                "description": "Stores the transcript and call metadata. Accepts the flat payload or the platform's call_ended envelope; other platform events are acknowledged as ignored.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhooks"],
                "summary": "Ingest a call-ended event",
                "operationId": "transcriptWebhook",
                "parameters": [
                    {"type": "string", "description": "Shared webhook secret", "name": "X-Webhook-Secret", "in": "header"},
                    {"type": "string", "description": "Delivery key; retries must reuse it", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Transcript event", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Ack"}, "headers": {"Idempotency-Replayed": {"type": "string", "description": "true when the response is a stored replay"}}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Bad webhook secret", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Archive unavailable, retry", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/webhooks/email": {
            "post": {
                "description": "Records the request and dispatches the email. Waits briefly for the relay; answers \"queued\" (202) when the outcome is not known yet.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhooks"],
                "summary": "Request a templated email",
                "operationId": "emailWebhook",
                "parameters": [
                    {"type": "string", "description": "Shared webhook secret", "name": "X-Webhook-Secret", "in": "header"},
                    {"type": "string", "description": "Delivery key; retries must reuse it", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Email request {call_id, email_type, user_email} or {args, call}", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "sent, stubbed or failed", "schema": {"$ref": "#/definitions/services.Ack"}},
                    "202": {"description": "queued", "schema": {"$ref": "#/definitions/services.Ack"}},
                    "400": {"description": "Invalid payload or unknown template", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Bad webhook secret", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Archive unavailable, retry", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/webhooks/alert": {
            "post": {
                "description": "Raises alert_type for the call at most once; later deliveries answer \"suppressed\".",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhooks"],
                "summary": "Raise an operator alert",
                "operationId": "alertWebhook",
                "parameters": [
                    {"type": "string", "description": "Shared webhook secret", "name": "X-Webhook-Secret", "in": "header"},
                    {"type": "string", "description": "Delivery key; retries must reuse it", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Alert event {alert_type, call_id, transcript?, details?}", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "alerted or suppressed", "schema": {"$ref": "#/definitions/services.Ack"}},
                    "400": {"description": "Invalid payload or unknown alert type", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Bad webhook secret", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Archive unavailable, retry", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/webhooks/transfer": {
            "post": {
                "description": "Marks the call transferred and appends a transfer audit row.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhooks"],
                "summary": "Record a live-agent transfer",
                "operationId": "transferWebhook",
                "parameters": [
                    {"type": "string", "description": "Shared webhook secret", "name": "X-Webhook-Secret", "in": "header"},
                    {"type": "string", "description": "Delivery key; retries must reuse it", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Transfer event {call_id, target_number?, reason?, notes?}", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "recorded", "schema": {"$ref": "#/definitions/services.Ack"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Bad webhook secret", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Archive unavailable, retry", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/calls": {
            "get": {
                "security": [{"BasicAuth": []}],
                "description": "Filters by call id (exact), phone (digit match), and a time window. Dates accept RFC 3339 or YYYY-MM-DD in the archive's time zone.",
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Search archived calls",
                "operationId": "listCalls",
                "parameters": [
                    {"type": "string", "description": "Exact call id", "name": "call_id", "in": "query"},
                    {"type": "string", "description": "Caller phone, any formatting", "name": "phone", "in": "query"},
                    {"type": "string", "description": "Window start (inclusive)", "name": "from", "in": "query"},
                    {"type": "string", "description": "Window end (exclusive; a date includes that day)", "name": "to", "in": "query"},
                    {"type": "string", "description": "One local day, YYYY-MM-DD", "name": "date", "in": "query"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number (>=1)", "name": "page", "in": "query"},
                    {"minimum": 1, "type": "integer", "default": 20, "description": "Page size", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListCallsResponse"}},
                    "400": {"description": "Invalid filter", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Search failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/calls/{id}": {
            "get": {
                "security": [{"BasicAuth": []}],
                "description": "Returns the full record, transcript included, with its email dispatches, alerts and transfers.",
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Get one call",
                "operationId": "getCall",
                "parameters": [
                    {"type": "string", "description": "Call ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.CallDetail"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Call not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Fetch failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/export": {
            "get": {
                "security": [{"BasicAuth": []}],
                "description": "Streams every call as one CSV row. The X-Export-Status trailer is \"complete\", or \"truncated\" when the stream broke after rows were sent.",
                "produces": ["text/csv"],
                "tags": ["Admin"],
                "summary": "Export the archive as CSV",
                "operationId": "exportCalls",
                "responses": {
                    "200": {"description": "CSV document", "schema": {"type": "string"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Export failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/stats": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Dashboard counters",
                "operationId": "archiveStats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Dashboard"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Stats failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/templates": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "List email templates",
                "operationId": "listTemplates",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListTemplatesResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Template failure", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/templates/{type}": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Get one email template",
                "operationId": "getTemplate",
                "parameters": [
                    {"enum": ["payment_link", "adjustment_form", "general_info"], "type": "string", "description": "Template type", "name": "type", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.TemplateView"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Unknown template type", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Template failure", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"BasicAuth": []}],
                "description": "Blank fields keep the built-in value. The merged template must parse.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Override an email template",
                "operationId": "updateTemplate",
                "parameters": [
                    {"type": "string", "description": "Template type", "name": "type", "in": "path", "required": true},
                    {"description": "Override", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.UpdateTemplateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.TemplateView"}},
                    "400": {"description": "Invalid template", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Unknown template type", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Template failure", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BasicAuth": []}],
                "tags": ["Admin"],
                "summary": "Restore the built-in email template",
                "operationId": "resetTemplate",
                "parameters": [
                    {"type": "string", "description": "Template type", "name": "type", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "Reset"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Unknown template type", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Template failure", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "validation_failed"},
                "message": {"type": "string", "example": "call_id: is required"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.IgnoredResponse": {
            "type": "object",
            "properties": {
                "event": {"type": "string", "example": "call_started"},
                "status": {"type": "string", "example": "ignored"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "handlers.ListCallsResponse": {
            "type": "object",
            "properties": {
                "calls": {"type": "array", "items": {"$ref": "#/definitions/domain.CallRecord"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.ListTemplatesResponse": {
            "type": "object",
            "properties": {
                "templates": {"type": "array", "items": {"$ref": "#/definitions/services.TemplateView"}}
            }
        },
        "handlers.UpdateTemplateRequest": {
            "type": "object",
            "properties": {
                "body": {"type": "string"},
                "subject": {"type": "string"}
            }
        },
        "services.Ack": {
            "type": "object",
            "properties": {
                "alert_type": {"type": "string"},
                "call_id": {"type": "string"},
                "email_type": {"type": "string"},
                "id": {"type": "string"},
                "status": {"type": "string", "example": "stored"}
            }
        },
        "services.CallDetail": {
            "type": "object",
            "properties": {
                "alerts": {"type": "array", "items": {"$ref": "#/definitions/domain.AlertEvent"}},
                "call": {"$ref": "#/definitions/domain.CallRecord"},
                "dispatches": {"type": "array", "items": {"$ref": "#/definitions/domain.EmailDispatchLog"}},
                "transfers": {"type": "array", "items": {"$ref": "#/definitions/domain.TransferEvent"}}
            }
        },
        "services.Dashboard": {
            "type": "object",
            "properties": {
                "alerts_raised": {"type": "integer"},
                "calls_today": {"type": "integer"},
                "closed_calls": {"type": "integer"},
                "emailed_calls": {"type": "integer"},
                "emails_failed": {"type": "integer"},
                "emails_sent": {"type": "integer"},
                "last_call_display": {"type": "string"},
                "latest_occurred_at": {"type": "string"},
                "negative_calls": {"type": "integer"},
                "time_zone": {"type": "string"},
                "total_calls": {"type": "integer"},
                "transferred_calls": {"type": "integer"}
            }
        },
        "services.TemplateView": {
            "type": "object",
            "properties": {
                "body": {"type": "string"},
                "customized": {"type": "boolean"},
                "label": {"type": "string"},
                "subject": {"type": "string"},
                "template_type": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.CallRecord": {
            "type": "object",
            "properties": {
                "call_id": {"type": "string"},
                "caller_phone": {"type": "string"},
                "duration_seconds": {"type": "integer"},
                "email_sent": {"type": "boolean"},
                "occurred_at": {"type": "string"},
                "occurred_estimated": {"type": "boolean"},
                "received_at": {"type": "string"},
                "sentiment": {"type": "string", "enum": ["positive", "neutral", "negative", "unknown"]},
                "status": {"type": "string", "enum": ["open", "closed"]},
                "transcript": {"type": "string"},
                "transferred": {"type": "boolean"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.EmailDispatchLog": {
            "type": "object",
            "properties": {
                "attempt": {"type": "integer"},
                "attempted_at": {"type": "string"},
                "call_id": {"type": "string"},
                "detail": {"type": "string"},
                "email_type": {"type": "string"},
                "id": {"type": "string"},
                "outcome": {"type": "string", "enum": ["sent", "stubbed", "failed"]},
                "recipient": {"type": "string"}
            }
        },
        "domain.AlertEvent": {
            "type": "object",
            "properties": {
                "alert_type": {"type": "string", "enum": ["negative_sentiment", "abandoned_call"]},
                "call_id": {"type": "string"},
                "delivery_detail": {"type": "string"},
                "delivery_status": {"type": "string"},
                "id": {"type": "string"},
                "payload_snapshot": {"type": "object"},
                "raised_at": {"type": "string"}
            }
        },
        "domain.TransferEvent": {
            "type": "object",
            "properties": {
                "call_id": {"type": "string"},
                "created_at": {"type": "string"},
                "id": {"type": "string"},
                "notes": {"type": "string"},
                "reason": {"type": "string"},
                "target_number": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BasicAuth": {
            "type": "basic"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "callvault API",
	Description:      "Call-event ingestion webhooks and the compliance archive admin API.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
