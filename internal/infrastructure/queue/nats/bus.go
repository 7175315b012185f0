package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
	"github.com/kirillkom/parish-ocr-validation/internal/infrastructure/resilience"
)

type Subjects struct {
	JobStarted        string
	TupleValidated    string
	DocumentValidated string
}

func DefaultSubjects() Subjects {
	return Subjects{
		JobStarted:        "ocr.jobs.started",
		TupleValidated:    "ocr.tuples.validated",
		DocumentValidated: "ocr.documents.validated",
	}
}

// Bus carries OCR job and validation events over core NATS.
type Bus struct {
	conn       *nats.Conn
	subjects   Subjects
	queueGroup string
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Options struct {
	Name                 string
	Subjects             Subjects
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "parish-ocr-validation"
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:       conn,
		subjects:   options.Subjects.withDefaults(),
		queueGroup: options.QueueGroup,
		executor:   options.ResilienceExecutor,
		logger:     logger,
	}, nil
}

func (s Subjects) withDefaults() Subjects {
	def := DefaultSubjects()
	if strings.TrimSpace(s.JobStarted) == "" {
		s.JobStarted = def.JobStarted
	}
	if strings.TrimSpace(s.TupleValidated) == "" {
		s.TupleValidated = def.TupleValidated
	}
	if strings.TrimSpace(s.DocumentValidated) == "" {
		s.DocumentValidated = def.DocumentValidated
	}
	return s
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) TupleValidated(ctx context.Context, event domain.TupleValidatedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal tuple validated event: %w", err)
	}
	return b.publish(ctx, b.subjects.TupleValidated, data)
}

func (b *Bus) DocumentValidated(ctx context.Context, documentID string) error {
	return b.publish(ctx, b.subjects.DocumentValidated, []byte(documentID))
}

func (b *Bus) publish(ctx context.Context, subject string, data []byte) error {
	call := func(context.Context) error {
		return b.conn.Publish(subject, data)
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	return publishError(subject, err)
}

// connectionLost reports errors that go away once the client reconnects.
func connectionLost(err error) bool {
	return errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrDisconnected)
}

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case connectionLost(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// publishError marks broker outages as ErrTemporary; other failures keep
// their cause.
func publishError(subject string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if connectionLost(err) || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, "nats publish "+subject, err)
	}
	return fmt.Errorf("nats publish %s: %w", subject, err)
}

// SubscribeJobStarted delivers every job-started event to this process.
// Progress state is per process, so each instance tracks its own copy.
func (b *Bus) SubscribeJobStarted(ctx context.Context, handler func(context.Context, string) error) error {
	return b.consume(ctx, b.subjects.JobStarted, "", func(msgCtx context.Context, data []byte) error {
		documentID := strings.TrimSpace(string(data))
		if documentID == "" {
			return fmt.Errorf("empty document id")
		}
		return handler(msgCtx, documentID)
	})
}

// SubscribeTupleValidated load-balances tuple events across the queue group.
func (b *Bus) SubscribeTupleValidated(ctx context.Context, handler func(context.Context, domain.TupleValidatedEvent) error) error {
	return b.consume(ctx, b.subjects.TupleValidated, b.queueGroup, func(msgCtx context.Context, data []byte) error {
		event, err := decodeTupleValidated(data)
		if err != nil {
			return err
		}
		return handler(msgCtx, event)
	})
}

func decodeTupleValidated(data []byte) (domain.TupleValidatedEvent, error) {
	var event domain.TupleValidatedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.TupleValidatedEvent{}, fmt.Errorf("decode tuple validated event: %w", err)
	}
	if event.EventID == "" || event.Decision.DocumentID == "" {
		return domain.TupleValidatedEvent{}, fmt.Errorf("decode tuple validated event: missing event or document id")
	}
	return event, nil
}

// consume blocks until ctx is done, then drains the subscription.
func (b *Bus) consume(ctx context.Context, subject, group string, handler func(context.Context, []byte) error) error {
	onMsg := func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, msg.Data); err != nil {
			b.logger.Error("bus_handler_failed", "subject", subject, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group == "" {
		sub, err = b.conn.Subscribe(subject, onMsg)
	} else {
		sub, err = b.conn.QueueSubscribe(subject, group, onMsg)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
