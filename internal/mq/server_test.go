package mq

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/task"
)

// settledMsg records how a message was settled. Methods not overridden here
// are never reached by settle.
type settledMsg struct {
	jetstream.Msg
	outcome string
}

func (m *settledMsg) Subject() string { return "taskcrew.test.cmd.execute_task" }
func (m *settledMsg) Ack() error      { m.outcome = "ack"; return nil }
func (m *settledMsg) Term() error     { m.outcome = "term"; return nil }
func (m *settledMsg) Nak() error      { m.outcome = "nak"; return nil }

func TestSettleNeverRedelivers(t *testing.T) {
	s := &Server{logger: zap.NewNop()}
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, "ack"},
		{"repository failure", task.RepositoryError("save execution", errors.New("connection reset")), "term"},
		{"wrapped repository failure", fmt.Errorf("execute: %w", task.ErrRepositoryFailure), "term"},
		{"provider failure", fmt.Errorf("%w: timeout", task.ErrProviderFailure), "term"},
		{"validation", fmt.Errorf("%w: bad payload", task.ErrValidation), "term"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &settledMsg{}
			s.settle(msg, tc.err)
			if msg.outcome != tc.want {
				t.Fatalf("settled with %q, want %q", msg.outcome, tc.want)
			}
		})
	}
}
