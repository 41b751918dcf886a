package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/huddlechat/huddle/internal/events"
)

// Store defines what the resolver needs from the persistence layer.
// Implementations return zero results, not errors, for entities that no
// longer exist: a vanished workspace simply means nobody to deliver to.
type Store interface {
	WorkspaceMembers(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error)
	ChannelWorkspace(ctx context.Context, channelID uuid.UUID) (uuid.UUID, bool, error)
	DirectParticipants(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, uuid.UUID, bool, error)
	AIConversationOwner(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, bool, error)
	MessageScope(ctx context.Context, messageID uuid.UUID) (events.Scope, bool, error)
	RelevantContacts(ctx context.Context, userID uuid.UUID) (workspaces, dmPartners []uuid.UUID, err error)
}

// RecipientSet is a deduplicated set of user ids entitled to receive one
// event. Sets are produced fresh per dispatch and never cached, because
// membership can change event to event.
type RecipientSet map[uuid.UUID]struct{}

func (s RecipientSet) add(ids ...uuid.UUID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Resolver maps an event's identifying fields to the users entitled to
// see it, consulting the store for live membership facts.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// ConversationMembers resolves the members of the conversation a scope
// points at. Channel membership is workspace membership: a channel-scoped
// event goes to every member of the channel's owning workspace.
func (r *Resolver) ConversationMembers(ctx context.Context, scope events.Scope) (RecipientSet, error) {
	set := make(RecipientSet)

	switch {
	case scope.ChannelID != nil:
		workspaceID, ok, err := r.store.ChannelWorkspace(ctx, *scope.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("resolve channel workspace: %w", err)
		}
		if !ok {
			return set, nil
		}
		members, err := r.store.WorkspaceMembers(ctx, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace members: %w", err)
		}
		set.add(members...)

	case scope.DMConversationID != nil:
		user1, user2, ok, err := r.store.DirectParticipants(ctx, *scope.DMConversationID)
		if err != nil {
			return nil, fmt.Errorf("resolve dm participants: %w", err)
		}
		if ok {
			set.add(user1, user2)
		}

	case scope.AIConversationID != nil:
		owner, ok, err := r.store.AIConversationOwner(ctx, *scope.AIConversationID)
		if err != nil {
			return nil, fmt.Errorf("resolve ai conversation owner: %w", err)
		}
		if ok {
			set.add(owner)
		}
	}
	return set, nil
}

// MessageMembers resolves recipients for events that reference a message
// (reactions) by recursing into the parent message's own scope.
func (r *Resolver) MessageMembers(ctx context.Context, messageID uuid.UUID) (RecipientSet, error) {
	scope, ok, err := r.store.MessageScope(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("resolve message scope: %w", err)
	}
	if !ok {
		return make(RecipientSet), nil
	}
	return r.ConversationMembers(ctx, scope)
}

// RelevantUsers resolves everyone with an interest in a user-scoped event
// (presence, profile change): all co-members of the subject's workspaces,
// all of the subject's direct-conversation partners, and the subject.
func (r *Resolver) RelevantUsers(ctx context.Context, userID uuid.UUID) (RecipientSet, error) {
	workspaces, partners, err := r.store.RelevantContacts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve relevant contacts: %w", err)
	}

	set := make(RecipientSet)
	for _, workspaceID := range workspaces {
		members, err := r.store.WorkspaceMembers(ctx, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace members: %w", err)
		}
		set.add(members...)
	}
	set.add(partners...)
	set.add(userID)
	return set, nil
}

// WorkspaceMembers resolves the current members of a workspace.
func (r *Resolver) WorkspaceMembers(ctx context.Context, workspaceID uuid.UUID) (RecipientSet, error) {
	members, err := r.store.WorkspaceMembers(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace members: %w", err)
	}
	set := make(RecipientSet)
	set.add(members...)
	return set, nil
}
