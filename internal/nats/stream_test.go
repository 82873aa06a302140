package nats

import (
	"context"
	"testing"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/prompt-engine/internal/model"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
)

func TestEventSubject(t *testing.T) {
	tests := []struct {
		userID string
		typ    model.EventType
		want   string
	}{
		{userID: "8f9b3f1e-4c4d-4d0a-9b3c-1f1f0f0f0f0f", typ: model.EventTypeTurnRecorded, want: "prompt.8f9b3f1e-4c4d-4d0a-9b3c-1f1f0f0f0f0f.event.turn_recorded"},
		{userID: "a.b*c>", typ: model.EventTypeSessionErrored, want: "prompt.a_b_c_.event.session_errored"},
		{userID: "", typ: model.EventTypeSessionDone, want: "prompt._.event.session_completed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EventSubject(tt.userID, tt.typ))
	}
}

func TestOptions(t *testing.T) {
	apply := func(cfg Config) natsgo.Options {
		o := natsgo.GetDefaultOptions()
		for _, opt := range options(cfg, logger.NewNop()) {
			require.NoError(t, opt(&o))
		}
		return o
	}

	o := apply(Config{URL: "nats://localhost:4222"})
	assert.Equal(t, "prompt-engine", o.Name)
	assert.Equal(t, -1, o.MaxReconnect)
	assert.Empty(t, o.Token)

	o = apply(Config{URL: "nats://localhost:4222", Name: "prompt-engine-2", Token: "s3cret"})
	assert.Equal(t, "prompt-engine-2", o.Name)
	assert.Equal(t, "s3cret", o.Token)
}

func TestPingWithoutConnection(t *testing.T) {
	assert.ErrorIs(t, (&Client{}).Ping(context.Background()), ErrNotConnected)
}
