package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/huddlechat/huddle/internal/events"
	"github.com/huddlechat/huddle/internal/registry"
)

// handlerFunc resolves an envelope's recipients and fans it out.
type handlerFunc func(d *Dispatcher, ctx context.Context, env events.Envelope)

// Dispatcher routes a validated envelope to the users entitled to see it.
// Delivery is fire-and-forget: no retries, no buffering for offline users,
// and no ordering across events. Within one dispatch, resolution strictly
// precedes fan-out.
type Dispatcher struct {
	registry *registry.Registry
	resolver *Resolver
	handlers map[events.Type]handlerFunc
}

// New builds a dispatcher with a handler registered for every event kind.
// The table and the taxonomy must stay in lockstep; Dispatch panics on a
// kind with no handler.
func New(reg *registry.Registry, store Store) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		resolver: NewResolver(store),
	}
	d.handlers = map[events.Type]handlerFunc{
		events.TypeMessageCreated: (*Dispatcher).handleConversationScoped,
		events.TypeMessageDeleted: (*Dispatcher).handleConversationScoped,
		events.TypeTypingStarted:  (*Dispatcher).handleConversationScoped,
		events.TypeTypingStopped:  (*Dispatcher).handleConversationScoped,
		events.TypeFileCreated:    (*Dispatcher).handleConversationScoped,
		events.TypeFileDeleted:    (*Dispatcher).handleConversationScoped,

		events.TypeReactionAdded:   (*Dispatcher).handleMessageScoped,
		events.TypeReactionRemoved: (*Dispatcher).handleMessageScoped,

		events.TypeUserUpdated: (*Dispatcher).handleUserScoped,
		events.TypeUserDeleted: (*Dispatcher).handleUserScoped,
		events.TypeUserOnline:  (*Dispatcher).handleUserScoped,
		events.TypeUserOffline: (*Dispatcher).handleUserScoped,

		events.TypeAIMessageStarted:   (*Dispatcher).handleDirect,
		events.TypeAIMessageChunk:     (*Dispatcher).handleDirect,
		events.TypeAIMessageCompleted: (*Dispatcher).handleDirect,
		events.TypeAIError:            (*Dispatcher).handleDirect,
		events.TypeError:              (*Dispatcher).handleDirect,

		events.TypeWorkspaceCreated:       (*Dispatcher).handleWorkspaceCreated,
		events.TypeWorkspaceUpdated:       (*Dispatcher).handleWorkspaceScoped,
		events.TypeWorkspaceDeleted:       (*Dispatcher).handleWorkspaceScoped,
		events.TypeWorkspaceMemberAdded:   (*Dispatcher).handleWorkspaceScoped,
		events.TypeWorkspaceMemberRemoved: (*Dispatcher).handleWorkspaceScoped,
		events.TypeWorkspaceMemberUpdated: (*Dispatcher).handleWorkspaceScoped,
	}
	return d
}

// Dispatch delivers env to every entitled, currently-online user. A kind
// with no registered handler means the taxonomy and the dispatch table
// have drifted, which is a programming error: it panics rather than being
// swallowed at runtime.
func (d *Dispatcher) Dispatch(ctx context.Context, env events.Envelope) {
	h, ok := d.handlers[env.Type]
	if !ok {
		log.Panic().Str("event_type", string(env.Type)).Msg("no handler registered for event type")
	}
	h(d, ctx, env)
}

// scoped is satisfied by every payload that embeds events.Scope.
type scoped interface {
	ConversationScope() events.Scope
}

func (d *Dispatcher) handleConversationScoped(ctx context.Context, env events.Envelope) {
	p, ok := env.Data.(scoped)
	if !ok {
		log.Panic().Str("event_type", string(env.Type)).Msg("payload carries no conversation scope")
	}
	recipients, err := d.resolver.ConversationMembers(ctx, p.ConversationScope())
	if err != nil {
		log.Error().Err(err).Str("event_type", string(env.Type)).Msg("recipient resolution failed")
		return
	}
	d.deliver(env, recipients)
}

func (d *Dispatcher) handleMessageScoped(ctx context.Context, env events.Envelope) {
	var messageID uuid.UUID
	switch p := env.Data.(type) {
	case events.ReactionPayload:
		messageID = p.MessageID
	case events.ReactionRemovedPayload:
		messageID = p.MessageID
	default:
		log.Panic().Str("event_type", string(env.Type)).Msg("payload carries no message id")
	}
	recipients, err := d.resolver.MessageMembers(ctx, messageID)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(env.Type)).Msg("recipient resolution failed")
		return
	}
	d.deliver(env, recipients)
}

func (d *Dispatcher) handleUserScoped(ctx context.Context, env events.Envelope) {
	var userID uuid.UUID
	switch p := env.Data.(type) {
	case events.UserPayload:
		userID = p.ID
	case events.UserDeletedPayload:
		userID = p.ID
	case events.PresencePayload:
		userID = p.ID
	default:
		log.Panic().Str("event_type", string(env.Type)).Msg("payload carries no subject user id")
	}
	recipients, err := d.resolver.RelevantUsers(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(env.Type)).Msg("recipient resolution failed")
		return
	}
	d.deliver(env, recipients)
}

// handleDirect serves events addressed to a single known user: AI stream
// frames go to the conversation's owner, who is by construction the user
// on the payload, and error events go back to whoever caused them.
func (d *Dispatcher) handleDirect(ctx context.Context, env events.Envelope) {
	var userID uuid.UUID
	switch p := env.Data.(type) {
	case events.AIMessagePayload:
		userID = p.UserID
	case events.ErrorPayload:
		userID = p.UserID
	default:
		log.Panic().Str("event_type", string(env.Type)).Msg("payload carries no target user id")
	}
	recipients := make(RecipientSet)
	recipients.add(userID)
	d.deliver(env, recipients)
}

// handleWorkspaceCreated notifies only the creator: at creation time the
// workspace has no other members.
func (d *Dispatcher) handleWorkspaceCreated(ctx context.Context, env events.Envelope) {
	p, ok := env.Data.(events.WorkspacePayload)
	if !ok {
		log.Panic().Str("event_type", string(env.Type)).Msg("payload is not a workspace payload")
	}
	recipients := make(RecipientSet)
	recipients.add(p.CreatedByID)
	d.deliver(env, recipients)
}

func (d *Dispatcher) handleWorkspaceScoped(ctx context.Context, env events.Envelope) {
	var workspaceID uuid.UUID
	switch p := env.Data.(type) {
	case events.WorkspacePayload:
		workspaceID = p.ID
	case events.WorkspaceDeletedPayload:
		workspaceID = p.ID
	case events.MemberPayload:
		workspaceID = p.WorkspaceID
	case events.MemberRemovedPayload:
		workspaceID = p.WorkspaceID
	case events.MemberRoleUpdatedPayload:
		workspaceID = p.WorkspaceID
	default:
		log.Panic().Str("event_type", string(env.Type)).Msg("payload carries no workspace id")
	}
	recipients, err := d.resolver.WorkspaceMembers(ctx, workspaceID)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(env.Type)).Msg("recipient resolution failed")
		return
	}
	d.deliver(env, recipients)
}

// deliver serializes env once and writes it to every online recipient
// concurrently. Individual write failures are handled by the registry
// (implicit disconnect) and never abort the rest of the fan-out.
func (d *Dispatcher) deliver(env events.Envelope, recipients RecipientSet) {
	if len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(env.Type)).Msg("marshal envelope")
		return
	}

	var wg sync.WaitGroup
	sent := 0
	for userID := range recipients {
		if !d.registry.IsOnline(userID) {
			continue
		}
		sent++
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			d.registry.Send(id, data)
		}(userID)
	}
	wg.Wait()

	log.Debug().
		Str("event_type", string(env.Type)).
		Int("recipients", len(recipients)).
		Int("delivered", sent).
		Msg("event dispatched")
}
