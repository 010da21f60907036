package model

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// UnmarshalJSON accepts any casing of the canonical action type names.
func (a *ActionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.WithStack(err)
	}
	if s == "" {
		*a = ""
		return nil
	}
	parsed, err := ParseActionType(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalJSON accepts any casing of the canonical source names.
func (s *Source) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}
	if raw == "" {
		*s = ""
		return nil
	}
	parsed, err := ParseSource(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// wireAliases maps normalised inbound keys to event fields. Game-server
// clients post a mix of snake_case, camelCase and shorthand key names for the
// same fields, so keys are lowercased and stripped of underscores before
// lookup. log_uuid is read-only on the wire: the service assigns it.
var wireAliases = map[string]string{
	"timestamp":        "timestamp",
	"ts":               "timestamp",
	"time":             "timestamp",
	"datetime":         "timestamp",
	"instant":          "timestamp",
	"instanttimestamp": "timestamp",
	"playeruuid":       "playerUUID",
	"uuid":             "playerUUID",
	"playername":       "playerName",
	"name":             "playerName",
	"actiontype":       "actionType",
	"actiondetail":     "actionDetail",
	"world":            "world",
	"worldname":        "world",
	"x":                "x",
	"xpos":             "x",
	"xposition":        "x",
	"y":                "y",
	"ypos":             "y",
	"yposition":        "y",
	"z":                "z",
	"zpos":             "z",
	"zposition":        "z",
	"source":           "source",
}

func normaliseWireKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "")
}

// UnmarshalJSON decodes an inbound event, resolving each key through the
// alias table. Unknown keys are ignored.
func (e *AuditEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}
	for key, value := range raw {
		field, known := wireAliases[normaliseWireKey(key)]
		if !known {
			continue
		}
		var err error
		switch field {
		case "timestamp":
			err = json.Unmarshal(value, &e.Timestamp)
		case "playerUUID":
			err = json.Unmarshal(value, &e.PlayerUUID)
		case "playerName":
			err = json.Unmarshal(value, &e.PlayerName)
		case "actionType":
			err = json.Unmarshal(value, &e.ActionType)
		case "actionDetail":
			err = json.Unmarshal(value, &e.ActionDetail)
		case "world":
			err = json.Unmarshal(value, &e.World)
		case "x":
			err = json.Unmarshal(value, &e.X)
		case "y":
			err = json.Unmarshal(value, &e.Y)
		case "z":
			err = json.Unmarshal(value, &e.Z)
		case "source":
			err = json.Unmarshal(value, &e.Source)
		}
		if err != nil {
			return errors.Wrapf(err, "decoding field %q", key)
		}
	}
	return nil
}
