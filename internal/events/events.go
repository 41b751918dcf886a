package events

import (
	"encoding/json"
	"fmt"
)

// Type identifies an event kind. The string values are the wire-level
// "type" field clients match on, so they must never change.
type Type string

const (
	TypeError Type = "error"

	TypeMessageCreated Type = "message_created"
	TypeMessageDeleted Type = "message_deleted"

	TypeReactionAdded   Type = "reaction_added"
	TypeReactionRemoved Type = "reaction_removed"

	TypeTypingStarted Type = "typing_started"
	TypeTypingStopped Type = "typing_stopped"

	TypeUserUpdated Type = "user_updated"
	TypeUserDeleted Type = "user_deleted"
	TypeUserOnline  Type = "user_online"
	TypeUserOffline Type = "user_offline"

	TypeAIMessageStarted   Type = "ai_message_started"
	TypeAIMessageChunk     Type = "ai_message_chunk"
	TypeAIMessageCompleted Type = "ai_message_completed"
	TypeAIError            Type = "ai_error"

	TypeFileCreated Type = "file_created"
	TypeFileDeleted Type = "file_deleted"

	TypeWorkspaceCreated       Type = "workspace_created"
	TypeWorkspaceUpdated       Type = "workspace_updated"
	TypeWorkspaceDeleted       Type = "workspace_deleted"
	TypeWorkspaceMemberAdded   Type = "workspace_member_added"
	TypeWorkspaceMemberRemoved Type = "workspace_member_removed"
	TypeWorkspaceMemberUpdated Type = "workspace_member_updated"
)

// Envelope is a validated, immutable event ready for delivery. It marshals
// to the wire shape {"type": "...", "data": {...}}. Envelopes are built
// through the New* constructors, which reject invalid payloads; the
// dispatcher trusts any Envelope it is handed.
type Envelope struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Parse decodes an inbound client frame into a validated Envelope.
// Unknown types and payloads that fail their invariants return an error;
// callers reply to the sender with an error event rather than dispatching.
func Parse(raw []byte) (Envelope, error) {
	var frame struct {
		Type Type            `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}

	switch frame.Type {
	case TypeMessageCreated, TypeMessageDeleted:
		var p MessagePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		if frame.Type == TypeMessageCreated {
			return NewMessageCreated(p)
		}
		return NewMessageDeleted(p)

	case TypeReactionAdded:
		var p ReactionPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return NewReactionAdded(p)

	case TypeReactionRemoved:
		var p ReactionRemovedPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return NewReactionRemoved(p)

	case TypeTypingStarted, TypeTypingStopped:
		var p TypingPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		p.IsTyping = frame.Type == TypeTypingStarted
		return NewTyping(p)

	case TypeUserUpdated:
		var p UserPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return NewUserUpdated(p)

	case TypeUserDeleted:
		var p UserDeletedPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return Envelope{Type: TypeUserDeleted, Data: p}, nil

	case TypeUserOnline, TypeUserOffline:
		var p PresencePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		if p.IsOnline != (frame.Type == TypeUserOnline) {
			return Envelope{}, fmt.Errorf("%s: is_online does not match event type", frame.Type)
		}
		return NewPresence(p.ID, p.IsOnline), nil

	case TypeAIMessageStarted, TypeAIMessageChunk, TypeAIMessageCompleted, TypeAIError:
		var p AIMessagePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		env, err := NewAIMessage(p)
		if err != nil {
			return Envelope{}, err
		}
		if env.Type != frame.Type {
			return Envelope{}, fmt.Errorf("%s: stream_stage does not match event type", frame.Type)
		}
		return env, nil

	case TypeFileCreated:
		var p FilePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return NewFileCreated(p)

	case TypeFileDeleted:
		var p FilePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return NewFileDeleted(p)

	case TypeWorkspaceCreated, TypeWorkspaceUpdated:
		var p WorkspacePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		if frame.Type == TypeWorkspaceCreated {
			return NewWorkspaceCreated(p)
		}
		return NewWorkspaceUpdated(p)

	case TypeWorkspaceDeleted:
		var p WorkspaceDeletedPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return Envelope{Type: TypeWorkspaceDeleted, Data: p}, nil

	case TypeWorkspaceMemberAdded:
		var p MemberPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return NewMemberAdded(p)

	case TypeWorkspaceMemberRemoved:
		var p MemberRemovedPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return Envelope{Type: TypeWorkspaceMemberRemoved, Data: p}, nil

	case TypeWorkspaceMemberUpdated:
		var p MemberRoleUpdatedPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return NewMemberRoleUpdated(p)

	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", frame.Type, err)
		}
		return Envelope{Type: TypeError, Data: p}, nil

	default:
		return Envelope{}, fmt.Errorf("unknown event type: %q", frame.Type)
	}
}
