package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxPlayerNameLength matches the column width of player_name in both stores.
const MaxPlayerNameLength = 15

// ActionType classifies an audited action. Values are stored lowercase.
type ActionType string

const (
	// Player actions
	ActionBlockBreak ActionType = "block_break"
	ActionBlockPlace ActionType = "block_place"
	ActionInteract   ActionType = "interact"
	ActionChat       ActionType = "chat"
	ActionCommand    ActionType = "command"

	// Player status
	ActionJoin    ActionType = "join"
	ActionQuit    ActionType = "quit"
	ActionDeath   ActionType = "death"
	ActionRespawn ActionType = "respawn"

	// System / plugin actions
	ActionPluginAction   ActionType = "plugin_action"
	ActionConsoleCommand ActionType = "console_command"
	ActionWorldEvent     ActionType = "world_event"
)

var actionTypes = map[ActionType]bool{
	ActionBlockBreak:     true,
	ActionBlockPlace:     true,
	ActionInteract:       true,
	ActionChat:           true,
	ActionCommand:        true,
	ActionJoin:           true,
	ActionQuit:           true,
	ActionDeath:          true,
	ActionRespawn:        true,
	ActionPluginAction:   true,
	ActionConsoleCommand: true,
	ActionWorldEvent:     true,
}

// ParseActionType parses s case-insensitively into an ActionType.
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	if !actionTypes[a] {
		return "", errors.Errorf("unrecognised action type %q", s)
	}
	return a, nil
}

// Source identifies what initiated an audited action.
type Source string

const (
	SourcePlayer     Source = "player"
	SourceConsole    Source = "console"
	SourcePlugin     Source = "plugin"
	SourceSystem     Source = "system"
	SourceWorldEvent Source = "world_event"
)

var sources = map[Source]bool{
	SourcePlayer:     true,
	SourceConsole:    true,
	SourcePlugin:     true,
	SourceSystem:     true,
	SourceWorldEvent: true,
}

// ParseSource parses s case-insensitively into a Source.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if !sources[src] {
		return "", errors.Errorf("unrecognised source %q", s)
	}
	return src, nil
}

// AuditEvent is one audited player or world action. Events are created once at
// ingestion, assigned a LogUUID, and are immutable afterwards.
type AuditEvent struct {
	Timestamp    time.Time      `json:"timestamp"`
	PlayerUUID   uuid.UUID      `json:"player_uuid"`
	PlayerName   string         `json:"player_name"`
	ActionType   ActionType     `json:"action_type"`
	ActionDetail map[string]any `json:"action_detail,omitempty"`
	World        string         `json:"world"`
	X            float64        `json:"x"`
	Y            float64        `json:"y"`
	Z            float64        `json:"z"`
	Source       Source         `json:"source"`
	LogUUID      uuid.UUID      `json:"log_uuid"`
}

// AssignLogUUID gives the event its idempotency key. Called exactly once, at
// ingestion; callers cannot supply their own.
func (e *AuditEvent) AssignLogUUID() {
	e.LogUUID = uuid.New()
}

// Validate checks the required fields of an inbound event.
func (e *AuditEvent) Validate() error {
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.PlayerUUID == uuid.Nil {
		return errors.New("player_uuid is required")
	}
	if e.PlayerName == "" {
		return errors.New("player_name is required")
	}
	if utf8.RuneCountInString(e.PlayerName) > MaxPlayerNameLength {
		return errors.Errorf("player_name %q exceeds %d characters", e.PlayerName, MaxPlayerNameLength)
	}
	if !actionTypes[e.ActionType] {
		return errors.Errorf("unrecognised action type %q", e.ActionType)
	}
	if e.World == "" {
		return errors.New("world is required")
	}
	if !sources[e.Source] {
		return errors.Errorf("unrecognised source %q", e.Source)
	}
	return nil
}
