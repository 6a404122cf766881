package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hassbridge/internal/domain"
	"hassbridge/internal/metrics"
)

var (
	// ErrInvalidFormat is reported for a raw call that does not carry
	// exactly a domain, a service and an entity id.
	ErrInvalidFormat = errors.New("invalid command format")

	// ErrServiceNotAllowed is reported when the raw-call policy blocks
	// the requested domain.service.
	ErrServiceNotAllowed = errors.New("service not allowed")
)

// RawCallPolicy decides whether a raw call may reach domain.service.
type RawCallPolicy interface {
	Check(domainName, service string) domain.PolicyAction
}

// Router classifies inbound messages, dispatches the resulting service
// calls and records each recognized command in the audit trail.
type Router struct {
	classifier *Classifier
	invoker    domain.ServiceInvoker
	audit      domain.AuditLogger
	policy     RawCallPolicy
	bus        domain.MessageBus
	logger     *slog.Logger
	tracer     trace.Tracer
	replies    bool
	now        func() time.Time
}

// RouterConfig holds the router's collaborators.
type RouterConfig struct {
	Classifier *Classifier
	Invoker    domain.ServiceInvoker
	Audit      domain.AuditLogger
	Logger     *slog.Logger

	// Policy gates raw calls; nil allows every raw call.
	Policy RawCallPolicy
	// Bus is required by Run and by replies.
	Bus     domain.MessageBus
	Replies bool
	// Tracer defaults to the global provider.
	Tracer trace.Tracer
	Now    func() time.Time
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("hassbridge/command")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{
		classifier: cfg.Classifier,
		invoker:    cfg.Invoker,
		audit:      cfg.Audit,
		policy:     cfg.Policy,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		replies:    cfg.Replies,
		now:        cfg.Now,
	}
}

// Outcome describes what happened to one message.
type Outcome struct {
	ID       string
	Command  domain.Command
	Results  []domain.CallResult
	Audited  bool
	AuditErr error
	Err      error // ErrInvalidFormat or ErrServiceNotAllowed
}

// Failed reports whether any part of the dispatch went wrong.
func (o Outcome) Failed() bool {
	if o.Err != nil || o.AuditErr != nil {
		return true
	}
	for _, r := range o.Results {
		if !r.OK() {
			return true
		}
	}
	return false
}

// Run drains the bus one message at a time until ctx is cancelled or the
// inbound channel closes.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("command router started")

	inbound := r.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("command router stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				r.logger.Info("inbound channel closed, command router stopping")
				return
			}
			r.process(ctx, msg)
		}
	}
}

// process handles one message and answers in its chat when replies are on.
// A panic is contained to the message that caused it.
func (r *Router) process(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.HandlerPanics.Inc()
			r.logger.Error("panic while handling message",
				"channel", msg.Channel,
				"panic", rec,
			)
		}
	}()

	// Dispatch that has started runs to completion; each call is still
	// bounded by the invoker's timeout.
	out := r.Handle(context.WithoutCancel(ctx), msg)
	if !r.replies || r.bus == nil {
		return
	}
	if reply := ReplyText(out); reply != "" {
		r.bus.SendOutbound(domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
		})
	}
}

// Handle runs classify, policy, dispatch and audit for a single message.
// Nothing here returns an error to the ingress; failures are logged and
// carried in the Outcome.
func (r *Router) Handle(ctx context.Context, msg domain.InboundMessage) Outcome {
	out := Outcome{ID: uuid.NewString()}
	logger := r.logger.With("msg_id", out.ID, "channel", msg.Channel)
	metrics.MessagesTotal.Inc()

	out.Command = r.classifier.Classify(msg.Content)
	cmd := out.Command

	switch cmd.Kind {
	case domain.CommandNone:
		logger.Debug("no command matched")
		return out
	case domain.CommandInvalid:
		metrics.InvalidCommands.Inc()
		out.Err = fmt.Errorf("%w: %s", ErrInvalidFormat, cmd.Reason)
		logger.Warn("rejected malformed command", "text", cmd.Text, "error", out.Err)
		return out
	}

	ctx, span := r.tracer.Start(ctx, "command.handle", trace.WithAttributes(
		attribute.String("command.kind", cmd.Kind.String()),
		attribute.String("command.phrase", cmd.Phrase),
		attribute.String("message.id", out.ID),
	))
	defer span.End()

	if cmd.Kind == domain.CommandRawService && r.policy != nil {
		if r.policy.Check(cmd.Domain, cmd.Service) != domain.ActionAllow {
			metrics.PolicyRejections.Inc()
			out.Err = fmt.Errorf("%w: %s.%s", ErrServiceNotAllowed, cmd.Domain, cmd.Service)
			span.SetStatus(codes.Error, out.Err.Error())
			logger.Warn("raw service call rejected", "text", cmd.Text, "error", out.Err)
			return out
		}
	}

	metrics.CommandsTotal(cmd.Kind.String()).Inc()
	logger.Info("command recognized", "kind", cmd.Kind.String(), "text", cmd.Text)

	out.Results = r.dispatch(ctx, logger, cmd)
	for _, res := range out.Results {
		if !res.OK() {
			span.SetStatus(codes.Error, "service call failed")
			break
		}
	}

	// Dispatch and audit are independent steps: failed calls are still recorded.
	rec := domain.AuditRecord{Timestamp: r.now(), Text: cmd.AuditText()}
	if err := r.audit.Append(ctx, rec); err != nil {
		metrics.AuditFailures.Inc()
		out.AuditErr = err
		span.RecordError(err)
		logger.Error("audit write failed", "error", err)
	} else {
		out.Audited = true
	}
	return out
}

// dispatch runs the invoker operation for cmd and records every result.
// Climate commands issue up to two calls.
func (r *Router) dispatch(ctx context.Context, logger *slog.Logger, cmd domain.Command) []domain.CallResult {
	var results []domain.CallResult
	switch cmd.Kind {
	case domain.CommandSwitch:
		results = []domain.CallResult{r.invoker.TurnSwitch(ctx, cmd.EntityID, cmd.Action)}
	case domain.CommandClimate:
		results = r.invoker.SetClimateModeAndTemperature(ctx, cmd.EntityID, cmd.Mode, cmd.Temperature)
	case domain.CommandService, domain.CommandRawService:
		results = []domain.CallResult{r.invoker.CallService(ctx, cmd.Domain, cmd.Service, cmd.EntityID)}
	}

	for _, res := range results {
		call := res.Call
		metrics.ServiceCalls.Inc()
		metrics.ServiceCallLatency.Observe(res.Duration.Seconds())
		if res.OK() {
			logger.Info("service call succeeded",
				"service", call.Domain+"."+call.Service,
				"entity_id", call.EntityID,
				"duration", res.Duration,
			)
			continue
		}
		metrics.ServiceCallErrors.Inc()
		logger.Error("service call failed",
			"service", call.Domain+"."+call.Service,
			"entity_id", call.EntityID,
			"status", res.StatusCode,
			"body", res.Body,
			"error", res.Err,
		)
	}
	return results
}

// ReplyText renders an outcome as a chat reply. Messages that matched
// nothing get no reply.
func ReplyText(out Outcome) string {
	switch {
	case out.Command.Kind == domain.CommandNone:
		return ""
	case errors.Is(out.Err, ErrInvalidFormat):
		return RawCallUsage
	case errors.Is(out.Err, ErrServiceNotAllowed):
		return fmt.Sprintf("%s.%s is not allowed", out.Command.Domain, out.Command.Service)
	}

	lines := make([]string, 0, len(out.Results)+1)
	for _, res := range out.Results {
		if res.OK() {
			lines = append(lines, "ok: "+res.Call.String())
		} else {
			lines = append(lines, fmt.Sprintf("failed: %s (%v)", res.Call.String(), res.Err))
		}
	}
	if out.AuditErr != nil {
		lines = append(lines, "warning: audit record not written")
	}
	return strings.Join(lines, "\n")
}
