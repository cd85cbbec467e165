package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/events"
	"github.com/nidhogg/taskcrew/internal/task"
)

// ReplyHeader names the subject a command result is published to. JetStream
// messages carry no reply inbox of their own.
const ReplyHeader = "Taskcrew-Reply-To"

// Subjects builds the subject names of one environment:
// taskcrew.<env>.cmd.<name>, taskcrew.<env>.query.<name> and
// taskcrew.<env>.events.<type>.
type Subjects struct {
	prefix string
}

// NewSubjects returns the subject scheme for env.
func NewSubjects(env string) Subjects {
	if env == "" {
		env = "development"
	}
	return Subjects{prefix: "taskcrew." + env + "."}
}

func (s Subjects) Command(name string) string    { return s.prefix + "cmd." + name }
func (s Subjects) Query(name string) string      { return s.prefix + "query." + name }
func (s Subjects) Event(t events.Type) string    { return s.prefix + "events." + string(t) }
func (s Subjects) wildcard(kind string) string   { return s.prefix + kind + ".>" }
func (s Subjects) name(kind, subj string) string { return strings.TrimPrefix(subj, s.prefix+kind+".") }

// Config holds the NATS connection settings.
type Config struct {
	URL    string
	Stream string
	Env    string
}

// Server consumes commands and events from JetStream and answers queries
// over core NATS. It also publishes lifecycle events.
type Server struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	stream   string
	subjects Subjects
	handlers *Handlers
	logger   *zap.Logger
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Server, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("taskcrew"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	subjects := NewSubjects(cfg.Env)
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{subjects.wildcard("cmd"), subjects.wildcard("events")},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	logger.Info("nats connected", zap.String("url", url), zap.String("stream", cfg.Stream))
	return &Server{
		nc:       nc,
		js:       js,
		stream:   cfg.Stream,
		subjects: subjects,
		logger:   logger,
	}, nil
}

// Subjects exposes the subject scheme in use.
func (s *Server) Subjects() Subjects { return s.subjects }

// Publish sends a lifecycle event to JetStream.
func (s *Server) Publish(ctx context.Context, evt events.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subj := s.subjects.Event(evt.Type)
	if _, err := s.js.Publish(ctx, subj, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subj, err)
	}
	return nil
}

// Run serves commands, events and queries with h until ctx is done.
func (s *Server) Run(ctx context.Context, h *Handlers) error {
	s.handlers = h
	cmdCons, err := s.consume(ctx, "taskcrew-commands", s.subjects.wildcard("cmd"), s.onCommand)
	if err != nil {
		return err
	}
	defer cmdCons.Stop()

	evtCons, err := s.consume(ctx, "taskcrew-events", s.subjects.wildcard("events"), s.onEvent)
	if err != nil {
		return err
	}
	defer evtCons.Stop()

	sub, err := s.nc.QueueSubscribe(s.subjects.wildcard("query"), "taskcrew", func(msg *nats.Msg) {
		s.onQuery(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe queries: %w", err)
	}
	defer sub.Unsubscribe()

	s.logger.Info("mq server listening", zap.String("prefix", s.subjects.prefix))
	<-ctx.Done()
	return nil
}

func (s *Server) consume(ctx context.Context, durable, filter string, handle func(context.Context, jetstream.Msg)) (jetstream.ConsumeContext, error) {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: filter,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create %s: %w", durable, err)
	}
	cc, err := consumer.Consume(func(msg jetstream.Msg) { handle(ctx, msg) })
	if err != nil {
		return nil, fmt.Errorf("nats consume %s: %w", durable, err)
	}
	return cc, nil
}

func (s *Server) onCommand(ctx context.Context, msg jetstream.Msg) {
	name := s.subjects.name("cmd", msg.Subject())
	reply, err := s.handlers.Command(ctx, name, msg.Data())
	if err != nil {
		s.logger.Error("command failed", zap.String("command", name), zap.Error(err))
		reply = Failure(err)
	}
	if to := msg.Headers().Get(ReplyHeader); to != "" {
		if data, mErr := json.Marshal(reply); mErr == nil {
			if pErr := s.nc.Publish(to, data); pErr != nil {
				s.logger.Warn("command reply failed", zap.String("command", name), zap.Error(pErr))
			}
		}
	}
	s.settle(msg, err)
}

func (s *Server) onEvent(ctx context.Context, msg jetstream.Msg) {
	var evt events.Event
	if err := json.Unmarshal(msg.Data(), &evt); err != nil {
		s.logger.Warn("malformed event", zap.String("subject", msg.Subject()), zap.Error(err))
		s.settle(msg, fmt.Errorf("%w: %w", task.ErrValidation, err))
		return
	}
	err := s.handlers.Event(ctx, evt)
	if err != nil {
		s.logger.Error("event handler failed",
			zap.String("type", string(evt.Type)), zap.String("execution", evt.ExecutionID), zap.Error(err))
	}
	s.settle(msg, err)
}

// settle acks handled messages. Failed ones are terminated so JetStream
// never redelivers them.
func (s *Server) settle(msg jetstream.Msg, err error) {
	var ackErr error
	if err == nil {
		ackErr = msg.Ack()
	} else {
		ackErr = msg.Term()
	}
	if ackErr != nil {
		s.logger.Error("nats ack failed", zap.String("subject", msg.Subject()), zap.Error(ackErr))
	}
}

func (s *Server) onQuery(ctx context.Context, msg *nats.Msg) {
	name := s.subjects.name("query", msg.Subject)
	reply, err := s.handlers.Query(ctx, name, msg.Data)
	if err != nil {
		reply = Failure(err)
	}
	data, err := json.Marshal(reply)
	if err != nil {
		data, _ = json.Marshal(Failure(err))
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("query reply failed", zap.String("query", name), zap.Error(err))
	}
}

// Close drains the connection.
func (s *Server) Close() error {
	return s.nc.Drain()
}
