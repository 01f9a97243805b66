package notify

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const pushSchemaURL = "storysync://push-payload.json"

// pushPayloadSchema accepts any object but pins the types of the fields the
// bridge reads. Payloads that fail it are shown as plain text.
const pushPayloadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"body": {"type": "string"},
		"storyId": {"type": ["string", "number"]},
		"options": {
			"type": "object",
			"properties": {
				"body": {"type": "string"},
				"icon": {"type": "string"},
				"badge": {"type": "string"},
				"tag": {"type": "string"},
				"storyId": {"type": ["string", "number"]},
				"actions": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["action"],
						"properties": {
							"action": {"type": "string"},
							"title": {"type": "string"}
						}
					}
				},
				"data": {"type": "object"}
			}
		}
	}
}`

func compilePushSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(pushPayloadSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(pushSchemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(pushSchemaURL)
}

type pushPayload struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	StoryID json.RawMessage `json:"storyId"`
	Options map[string]any  `json:"options"`
}

var knownOptionFields = map[string]struct{}{
	"body": {}, "icon": {}, "badge": {}, "tag": {}, "actions": {}, "storyId": {},
}

// FromPush turns an opaque push message into a notification. Structured JSON
// is tried first, then the bytes as plain text, then the defaults.
func (b *Bridge) FromPush(payload []byte) Notification {
	n := Notification{
		Title:  b.defaults.Title,
		Body:   b.defaults.Body,
		Icon:   b.defaults.Icon,
		Badge:  b.defaults.Badge,
		Origin: OriginPush,
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return finishPush(n, "")
	}
	if parsed, ok := b.decodePush(trimmed); ok {
		return b.mergePush(n, parsed)
	}
	if utf8.Valid(trimmed) {
		n.Body = string(trimmed)
	}
	return finishPush(n, "")
}

func (b *Bridge) decodePush(raw []byte) (pushPayload, bool) {
	if b.schema == nil {
		return pushPayload{}, false
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return pushPayload{}, false
	}
	if err := b.schema.Validate(inst); err != nil {
		b.logger.Debug().Err(err).Msg("push payload is not a structured notification")
		return pushPayload{}, false
	}
	var parsed pushPayload
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return pushPayload{}, false
	}
	return parsed, true
}

func (b *Bridge) mergePush(n Notification, p pushPayload) Notification {
	if title := strings.TrimSpace(p.Title); title != "" {
		n.Title = title
	}
	if body := strings.TrimSpace(p.Body); body != "" {
		n.Body = body
	}
	storyID := rawStoryID(p.StoryID)

	for key, value := range p.Options {
		if _, known := knownOptionFields[key]; known {
			continue
		}
		if n.Extra == nil {
			n.Extra = map[string]any{}
		}
		n.Extra[key] = value
	}
	if body, ok := p.Options["body"].(string); ok && strings.TrimSpace(body) != "" {
		n.Body = body
	}
	if icon, ok := p.Options["icon"].(string); ok && icon != "" {
		n.Icon = icon
	}
	if badge, ok := p.Options["badge"].(string); ok && badge != "" {
		n.Badge = badge
	}
	if tag, ok := p.Options["tag"].(string); ok {
		n.Tag = tag
	}
	if actions, ok := p.Options["actions"].([]any); ok {
		for _, item := range actions {
			entry, _ := item.(map[string]any)
			action, _ := entry["action"].(string)
			title, _ := entry["title"].(string)
			if action == "" {
				continue
			}
			if title == "" {
				title = action
			}
			n.Actions = append(n.Actions, Action{Action: action, Title: title})
		}
	}
	if id := anyStoryID(p.Options["storyId"]); id != "" {
		storyID = id
	}
	if data, ok := p.Options["data"].(map[string]any); ok {
		if id := anyStoryID(data["storyId"]); id != "" && storyID == "" {
			storyID = id
		}
	}
	return finishPush(n, storyID)
}

func finishPush(n Notification, storyID string) Notification {
	if storyID != "" {
		n.TargetRoute = StoryRoute(storyID)
	} else {
		n.TargetRoute = RouteHome
	}
	if len(n.Actions) == 0 {
		n.Actions = defaultActions()
	}
	return n
}

func rawStoryID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return anyStoryID(v)
}

func anyStoryID(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
