// Package membership answers the recipient-resolution queries from the
// relational schema. It is strictly read-only: the delivery path never
// writes domain state. Results are always fetched live, because membership
// can change between two events.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/huddlechat/huddle/internal/events"
)

// Repository runs membership lookups against postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a membership repository over a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WorkspaceMembers returns the ids of every current member of the
// workspace. A missing workspace yields an empty slice.
func (r *Repository) WorkspaceMembers(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM workspace_members WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query workspace members: %w", err)
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workspace member: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace members: %w", err)
	}
	return members, nil
}

// ChannelWorkspace resolves the workspace owning a channel. The second
// return is false when the channel no longer exists.
func (r *Repository) ChannelWorkspace(ctx context.Context, channelID uuid.UUID) (uuid.UUID, bool, error) {
	var workspaceID uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT workspace_id FROM channels WHERE id = $1`, channelID).Scan(&workspaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("query channel workspace: %w", err)
	}
	return workspaceID, true, nil
}

// DirectParticipants returns the two participants of a direct-message
// conversation. The bool is false when the conversation no longer exists.
func (r *Repository) DirectParticipants(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, uuid.UUID, bool, error) {
	var user1, user2 uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT user1_id, user2_id FROM dm_conversations WHERE id = $1`, conversationID).
		Scan(&user1, &user2)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, uuid.Nil, false, fmt.Errorf("query dm participants: %w", err)
	}
	return user1, user2, true, nil
}

// AIConversationOwner returns the single user owning an AI conversation.
// The bool is false when the conversation no longer exists.
func (r *Repository) AIConversationOwner(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, bool, error) {
	var ownerID uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM ai_conversations WHERE id = $1`, conversationID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("query ai conversation owner: %w", err)
	}
	return ownerID, true, nil
}

// MessageScope resolves which conversation a message belongs to. The bool
// is false when the message no longer exists.
func (r *Repository) MessageScope(ctx context.Context, messageID uuid.UUID) (events.Scope, bool, error) {
	var channelID, dmID, aiID *uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT channel_id, dm_conversation_id, ai_conversation_id FROM messages WHERE id = $1`, messageID).
		Scan(&channelID, &dmID, &aiID)
	if errors.Is(err, pgx.ErrNoRows) {
		return events.Scope{}, false, nil
	}
	if err != nil {
		return events.Scope{}, false, fmt.Errorf("query message scope: %w", err)
	}
	return events.Scope{
		ChannelID:        channelID,
		DMConversationID: dmID,
		AIConversationID: aiID,
	}, true, nil
}

// RelevantContacts returns the workspaces a user belongs to and the
// partners of every direct conversation the user participates in. Both
// lists may be empty; a deleted user simply has no rows.
func (r *Repository) RelevantContacts(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, []uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT workspace_id FROM workspace_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("query user workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, nil, fmt.Errorf("scan user workspace: %w", err)
		}
		workspaces = append(workspaces, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate user workspaces: %w", err)
	}

	partnerRows, err := r.pool.Query(ctx,
		`SELECT CASE WHEN user1_id = $1 THEN user2_id ELSE user1_id END
		   FROM dm_conversations
		  WHERE user1_id = $1 OR user2_id = $1`, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("query dm partners: %w", err)
	}
	defer partnerRows.Close()

	var partners []uuid.UUID
	for partnerRows.Next() {
		var id uuid.UUID
		if err := partnerRows.Scan(&id); err != nil {
			return nil, nil, fmt.Errorf("scan dm partner: %w", err)
		}
		partners = append(partners, id)
	}
	if err := partnerRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate dm partners: %w", err)
	}
	return workspaces, partners, nil
}
