// Package chat runs one chat turn: it assembles the system prompt from the
// selected persona and live workflow context, streams the model's answer to
// the caller, records the exchange in the session, and dispatches any
// workflow command the answer contains.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/llm"
	"github.com/R0m1k3/n8ngest/internal/logging"
	"github.com/R0m1k3/n8ngest/internal/n8n"
	"github.com/R0m1k3/n8ngest/internal/persona"
	"github.com/R0m1k3/n8ngest/internal/store"
)

// Directory is the read side of the workflow server used for prompt context.
type Directory interface {
	ListWorkflows(ctx context.Context) ([]n8n.Workflow, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]n8n.Execution, error)
}

// Workflows applies dispatched commands.
type Workflows interface {
	Update(ctx context.Context, id string, changes map[string]any) (*n8n.Workflow, error)
	Execute(ctx context.Context, id string, input map[string]any) (*n8n.Execution, error)
}

type Personas interface {
	Get(ctx context.Context, id string) (*persona.Persona, error)
}

// Sessions is the subset of store.Store a turn needs.
type Sessions interface {
	CreateSession(ctx context.Context, title string) (*store.Session, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
	AppendMessage(ctx context.Context, sessionID, role, content string) (*store.Message, error)
}

type Request struct {
	Messages       []llm.Message `json:"messages"`
	AgentID        string        `json:"agentId,omitempty"`
	SessionID      string        `json:"sessionId,omitempty"`
	WorkflowAction *Command      `json:"workflowAction,omitempty"`
}

var ErrNoMessages = errors.New("messages must contain at least one user message")

type Options struct {
	Directory Directory
	Workflows Workflows
	Personas  Personas
	Providers llm.Factory
	// Sessions may be nil, in which case nothing is persisted.
	Sessions Sessions
	Logger   *zap.Logger
}

type Orchestrator struct {
	directory Directory
	workflows Workflows
	personas  Personas
	providers llm.Factory
	sessions  Sessions
	log       *zap.Logger
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		directory: opts.Directory,
		workflows: opts.Workflows,
		personas:  opts.Personas,
		providers: opts.Providers,
		sessions:  opts.Sessions,
		log:       logging.OrNop(opts.Logger),
	}
}

// Turn is a prepared generation. SessionID is known before streaming starts.
type Turn struct {
	SessionID string
	System    string
	Messages  []llm.Message

	o        *Orchestrator
	provider llm.Provider
}

// Outcome describes a completed turn.
type Outcome struct {
	SessionID string
	Text      string
	Command   *Command
	Result    *Result
}

// Begin resolves the provider, persona, session and prompt context. The
// latest user message is recorded in the session here.
func (o *Orchestrator) Begin(ctx context.Context, req Request) (*Turn, error) {
	msgs := conversation(req.Messages)
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != llm.RoleUser {
		return nil, ErrNoMessages
	}
	latest := msgs[len(msgs)-1].Content

	provider, err := o.providers(ctx)
	if err != nil {
		return nil, err
	}

	p := o.persona(ctx, req.AgentID)

	sessionID, err := o.recordUser(ctx, req.SessionID, latest)
	if err != nil {
		return nil, err
	}

	return &Turn{
		SessionID: sessionID,
		System:    o.systemPrompt(ctx, p, latest),
		Messages:  msgs,
		o:         o,
		provider:  provider,
	}, nil
}

// Run streams the answer through onDelta while accumulating it. If the
// stream fails or onDelta returns an error (client gone) the partial text is
// discarded and nothing more is persisted.
func (t *Turn) Run(ctx context.Context, onDelta llm.DeltaFunc) (*Outcome, error) {
	var buf strings.Builder
	err := t.provider.Stream(ctx, llm.Request{System: t.System, Messages: t.Messages}, func(delta string) error {
		buf.WriteString(delta)
		return onDelta(delta)
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{SessionID: t.SessionID, Text: buf.String()}
	t.o.recordAssistant(ctx, t.SessionID, out.Text)

	if cmd, ok := DetectCommand(out.Text); ok {
		out.Command = cmd
		res, err := t.o.Dispatch(ctx, *cmd)
		if err != nil {
			t.o.log.Warn("workflow command failed",
				zap.String("action", cmd.Action), zap.String("workflow_id", cmd.WorkflowID), zap.Error(err))
		}
		out.Result = res
	}
	return out, nil
}

func (o *Orchestrator) persona(ctx context.Context, id string) *persona.Persona {
	if id == "" || o.personas == nil {
		return nil
	}
	p, err := o.personas.Get(ctx, id)
	if err != nil {
		o.log.Warn("load persona", zap.String("agent_id", id), zap.Error(err))
		return nil
	}
	if p == nil {
		o.log.Warn("persona not found, using default prompt", zap.String("agent_id", id))
		return nil
	}
	o.log.Debug("persona activated", zap.String("agent_id", id), zap.String("name", p.Name))
	return p
}

func (o *Orchestrator) recordUser(ctx context.Context, sessionID, content string) (string, error) {
	if o.sessions == nil {
		return sessionID, nil
	}
	if sessionID == "" {
		sess, err := o.sessions.CreateSession(ctx, sessionTitle(content))
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		sessionID = sess.ID
	}
	if _, err := o.sessions.AppendMessage(ctx, sessionID, llm.RoleUser, content); err != nil {
		return "", fmt.Errorf("record message: %w", err)
	}
	return sessionID, nil
}

func (o *Orchestrator) recordAssistant(ctx context.Context, sessionID, content string) {
	if o.sessions == nil || sessionID == "" || content == "" {
		return
	}
	if _, err := o.sessions.AppendMessage(ctx, sessionID, llm.RoleAssistant, content); err != nil {
		o.log.Warn("record assistant message", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// conversation keeps user and assistant turns with content.
func conversation(in []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(in))
	for _, m := range in {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

const maxTitleRunes = 60

func sessionTitle(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= maxTitleRunes {
		return line
	}
	r := []rune(line)
	return strings.TrimSpace(string(r[:maxTitleRunes])) + "…"
}
