package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope pins a conversation-scoped payload to exactly one conversation.
// It embeds flat into payload structs so the wire fields stay top-level.
type Scope struct {
	ChannelID        *uuid.UUID `json:"channel_id,omitempty"`
	DMConversationID *uuid.UUID `json:"dm_conversation_id,omitempty"`
	AIConversationID *uuid.UUID `json:"ai_conversation_id,omitempty"`
}

// ChannelScope returns a Scope for a channel conversation.
func ChannelScope(id uuid.UUID) Scope { return Scope{ChannelID: &id} }

// DMScope returns a Scope for a direct-message conversation.
func DMScope(id uuid.UUID) Scope { return Scope{DMConversationID: &id} }

// AIScope returns a Scope for an AI conversation.
func AIScope(id uuid.UUID) Scope { return Scope{AIConversationID: &id} }

func (s Scope) count() int {
	n := 0
	if s.ChannelID != nil {
		n++
	}
	if s.DMConversationID != nil {
		n++
	}
	if s.AIConversationID != nil {
		n++
	}
	return n
}

// IsZero reports whether no conversation id is set.
func (s Scope) IsZero() bool { return s.count() == 0 }

// ConversationScope returns the scope itself. Payloads embedding Scope
// expose it to the dispatcher through this method.
func (s Scope) ConversationScope() Scope { return s }

func (s Scope) validate() error {
	switch s.count() {
	case 0:
		return errors.New("a conversation id must be provided")
	case 1:
		return nil
	default:
		return errors.New("conversation ids are mutually exclusive")
	}
}

// Role is a user's role within a workspace.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) validate() error {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return nil
	default:
		return fmt.Errorf("unknown workspace role: %q", r)
	}
}

// MessagePayload carries a chat message for message_created and
// message_deleted events.
type MessagePayload struct {
	ID            uuid.UUID `json:"id"`
	Content       string    `json:"content"`
	UserID        uuid.UUID `json:"user_id"`
	IsAIGenerated bool      `json:"is_ai_generated"`
	Scope
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	FileID    *uuid.UUID `json:"file_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (p MessagePayload) validate() error {
	if err := p.Scope.validate(); err != nil {
		return err
	}
	if p.IsAIGenerated && p.AIConversationID == nil {
		return errors.New("AI generated messages require an ai_conversation_id")
	}
	if p.AIConversationID != nil && p.ParentID != nil {
		return errors.New("AI conversations do not support threads")
	}
	return nil
}

// NewMessageCreated builds a message_created envelope.
func NewMessageCreated(p MessagePayload) (Envelope, error) {
	if err := p.validate(); err != nil {
		return Envelope{}, fmt.Errorf("message_created: %w", err)
	}
	return Envelope{Type: TypeMessageCreated, Data: p}, nil
}

// NewMessageDeleted builds a message_deleted envelope.
func NewMessageDeleted(p MessagePayload) (Envelope, error) {
	if err := p.validate(); err != nil {
		return Envelope{}, fmt.Errorf("message_deleted: %w", err)
	}
	return Envelope{Type: TypeMessageDeleted, Data: p}, nil
}

// ReactionPayload carries a reaction_added event.
type ReactionPayload struct {
	ID        uuid.UUID `json:"id"`
	Emoji     string    `json:"emoji"`
	UserID    uuid.UUID `json:"user_id"`
	MessageID uuid.UUID `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewReactionAdded builds a reaction_added envelope.
func NewReactionAdded(p ReactionPayload) (Envelope, error) {
	if p.Emoji == "" {
		return Envelope{}, errors.New("reaction_added: emoji must be provided")
	}
	return Envelope{Type: TypeReactionAdded, Data: p}, nil
}

// ReactionRemovedPayload carries a reaction_removed event.
type ReactionRemovedPayload struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// NewReactionRemoved builds a reaction_removed envelope.
func NewReactionRemoved(p ReactionRemovedPayload) (Envelope, error) {
	return Envelope{Type: TypeReactionRemoved, Data: p}, nil
}

// TypingPayload carries typing_started and typing_stopped events. ID is the
// typing user.
type TypingPayload struct {
	Scope
	ID       uuid.UUID `json:"id"`
	IsTyping bool      `json:"is_typing"`
}

// NewTyping builds a typing_started or typing_stopped envelope depending on
// IsTyping.
func NewTyping(p TypingPayload) (Envelope, error) {
	if err := p.Scope.validate(); err != nil {
		return Envelope{}, fmt.Errorf("typing: %w", err)
	}
	t := TypeTypingStopped
	if p.IsTyping {
		t = TypeTypingStarted
	}
	return Envelope{Type: t, Data: p}, nil
}

// UserPayload is the user profile snapshot sent with user_updated.
type UserPayload struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	IsOnline    bool      `json:"is_online"`
	S3Key       *string   `json:"s3_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewUserUpdated builds a user_updated envelope.
func NewUserUpdated(p UserPayload) (Envelope, error) {
	if p.Username == "" {
		return Envelope{}, errors.New("user_updated: username must be provided")
	}
	return Envelope{Type: TypeUserUpdated, Data: p}, nil
}

// UserDeletedPayload carries a user_deleted event.
type UserDeletedPayload struct {
	ID uuid.UUID `json:"id"`
}

// NewUserDeleted builds a user_deleted envelope.
func NewUserDeleted(id uuid.UUID) Envelope {
	return Envelope{Type: TypeUserDeleted, Data: UserDeletedPayload{ID: id}}
}

// PresencePayload carries user_online and user_offline events.
type PresencePayload struct {
	ID       uuid.UUID `json:"id"`
	IsOnline bool      `json:"is_online"`
}

// NewPresence builds a user_online or user_offline envelope. The payload
// flag always agrees with the event type, so no validation can fail.
func NewPresence(userID uuid.UUID, online bool) Envelope {
	t := TypeUserOffline
	if online {
		t = TypeUserOnline
	}
	return Envelope{Type: t, Data: PresencePayload{ID: userID, IsOnline: online}}
}

// StreamStage is the phase of an AI reply stream.
type StreamStage string

const (
	StageStarted   StreamStage = "started"
	StageChunk     StreamStage = "chunk"
	StageCompleted StreamStage = "completed"
	StageError     StreamStage = "error"
)

// AIMessagePayload carries one frame of a streamed AI reply.
type AIMessagePayload struct {
	ID               uuid.UUID   `json:"id"`
	UserID           uuid.UUID   `json:"user_id"`
	AIConversationID uuid.UUID   `json:"ai_conversation_id"`
	Content          *string     `json:"content,omitempty"`
	StreamStage      StreamStage `json:"stream_stage"`
	Error            *string     `json:"error,omitempty"`
}

func (p AIMessagePayload) validate() error {
	hasContent := p.Content != nil && *p.Content != ""
	hasError := p.Error != nil && *p.Error != ""
	switch p.StreamStage {
	case StageStarted, StageCompleted:
		if hasContent {
			return fmt.Errorf("stage %s must not carry content", p.StreamStage)
		}
		if hasError {
			return fmt.Errorf("stage %s must not carry an error", p.StreamStage)
		}
	case StageChunk:
		if !hasContent {
			return errors.New("stage chunk requires content")
		}
		if hasError {
			return errors.New("stage chunk must not carry an error")
		}
	case StageError:
		if !hasError {
			return errors.New("stage error requires an error")
		}
		if hasContent {
			return errors.New("stage error must not carry content")
		}
	default:
		return fmt.Errorf("unknown stream stage: %q", p.StreamStage)
	}
	return nil
}

// NewAIMessage builds the ai_message_* or ai_error envelope matching the
// payload's stream stage.
func NewAIMessage(p AIMessagePayload) (Envelope, error) {
	if err := p.validate(); err != nil {
		return Envelope{}, fmt.Errorf("ai message: %w", err)
	}
	var t Type
	switch p.StreamStage {
	case StageStarted:
		t = TypeAIMessageStarted
	case StageChunk:
		t = TypeAIMessageChunk
	case StageCompleted:
		t = TypeAIMessageCompleted
	case StageError:
		t = TypeAIError
	}
	return Envelope{Type: t, Data: p}, nil
}

// FilePayload carries file_created and file_deleted events. A file may be
// attached to a message, a workspace, or at most one conversation.
type FilePayload struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	FileType    string     `json:"file_type"`
	MimeType    string     `json:"mime_type"`
	FileSize    int64      `json:"file_size"`
	MessageID   *uuid.UUID `json:"message_id,omitempty"`
	UserID      uuid.UUID  `json:"user_id"`
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
	Scope
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p FilePayload) validate() error {
	if p.Scope.count() > 1 {
		return errors.New("conversation ids are mutually exclusive")
	}
	if p.Scope.IsZero() && p.MessageID == nil && p.WorkspaceID == nil {
		return errors.New("file must be attached to a conversation, workspace, or message")
	}
	return nil
}

// NewFileCreated builds a file_created envelope.
func NewFileCreated(p FilePayload) (Envelope, error) {
	if err := p.validate(); err != nil {
		return Envelope{}, fmt.Errorf("file_created: %w", err)
	}
	return Envelope{Type: TypeFileCreated, Data: p}, nil
}

// NewFileDeleted builds a file_deleted envelope.
func NewFileDeleted(p FilePayload) (Envelope, error) {
	if err := p.validate(); err != nil {
		return Envelope{}, fmt.Errorf("file_deleted: %w", err)
	}
	return Envelope{Type: TypeFileDeleted, Data: p}, nil
}

// WorkspacePayload is the workspace snapshot sent with workspace_created
// and workspace_updated.
type WorkspacePayload struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	CreatedByID uuid.UUID `json:"created_by_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewWorkspaceCreated builds a workspace_created envelope.
func NewWorkspaceCreated(p WorkspacePayload) (Envelope, error) {
	if p.Name == "" {
		return Envelope{}, errors.New("workspace_created: name must be provided")
	}
	return Envelope{Type: TypeWorkspaceCreated, Data: p}, nil
}

// NewWorkspaceUpdated builds a workspace_updated envelope.
func NewWorkspaceUpdated(p WorkspacePayload) (Envelope, error) {
	if p.Name == "" {
		return Envelope{}, errors.New("workspace_updated: name must be provided")
	}
	return Envelope{Type: TypeWorkspaceUpdated, Data: p}, nil
}

// WorkspaceDeletedPayload carries a workspace_deleted event.
type WorkspaceDeletedPayload struct {
	ID uuid.UUID `json:"id"`
}

// NewWorkspaceDeleted builds a workspace_deleted envelope.
func NewWorkspaceDeleted(id uuid.UUID) Envelope {
	return Envelope{Type: TypeWorkspaceDeleted, Data: WorkspaceDeletedPayload{ID: id}}
}

// MemberPayload carries a workspace_member_added event.
type MemberPayload struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// NewMemberAdded builds a workspace_member_added envelope.
func NewMemberAdded(p MemberPayload) (Envelope, error) {
	if err := p.Role.validate(); err != nil {
		return Envelope{}, fmt.Errorf("workspace_member_added: %w", err)
	}
	return Envelope{Type: TypeWorkspaceMemberAdded, Data: p}, nil
}

// MemberRemovedPayload carries a workspace_member_removed event.
type MemberRemovedPayload struct {
	UserID      uuid.UUID `json:"user_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
}

// NewMemberRemoved builds a workspace_member_removed envelope.
func NewMemberRemoved(p MemberRemovedPayload) Envelope {
	return Envelope{Type: TypeWorkspaceMemberRemoved, Data: p}
}

// MemberRoleUpdatedPayload carries a workspace_member_updated event.
type MemberRoleUpdatedPayload struct {
	UserID      uuid.UUID `json:"user_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Role        Role      `json:"role"`
}

// NewMemberRoleUpdated builds a workspace_member_updated envelope.
func NewMemberRoleUpdated(p MemberRoleUpdatedPayload) (Envelope, error) {
	if err := p.Role.validate(); err != nil {
		return Envelope{}, fmt.Errorf("workspace_member_updated: %w", err)
	}
	return Envelope{Type: TypeWorkspaceMemberUpdated, Data: p}, nil
}

// ErrorPayload carries an error event. Error events are only ever sent back
// to the connection that caused them.
type ErrorPayload struct {
	Error              string    `json:"error"`
	HumanReadableError string    `json:"human_readable_error"`
	UserID             uuid.UUID `json:"user_id"`
}

// NewError builds an error envelope addressed to userID.
func NewError(userID uuid.UUID, detail, human string) Envelope {
	return Envelope{Type: TypeError, Data: ErrorPayload{
		Error:              detail,
		HumanReadableError: human,
		UserID:             userID,
	}}
}
