package alerts_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/alerts"
	"github.com/meanishn/platform/internal/ports"
)

type captured struct {
	got []ports.Notification
	err error
}

func (c *captured) Notify(_ context.Context, n ports.Notification) error {
	c.got = append(c.got, n)
	return c.err
}

func newProcessor(deliver ports.Notifier) *alerts.Processor {
	// The server connects lazily; handlers are exercised through the mux only.
	return alerts.NewProcessor(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, 1, deliver, nil, zap.NewNop())
}

func TestProcessor_DeliversNotification(t *testing.T) {
	sink := &captured{}
	mux := newProcessor(sink).Mux()

	b, err := json.Marshal(alerts.NotificationPayload{Notification: ports.Notification{
		Kind:        ports.NotifyOfferCreated,
		RequestID:   "req-1",
		RecipientID: "prov-1",
	}})
	require.NoError(t, err)

	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(alerts.TaskNotification, b)))
	require.Len(t, sink.got, 1)
	assert.Equal(t, "prov-1", sink.got[0].RecipientID)
}

func TestProcessor_RetriesFailedDelivery(t *testing.T) {
	boom := errors.New("push gateway down")
	mux := newProcessor(&captured{err: boom}).Mux()

	b, _ := json.Marshal(alerts.NotificationPayload{})
	err := mux.ProcessTask(context.Background(), asynq.NewTask(alerts.TaskNotification, b))
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessor_SkipsMalformedPayloads(t *testing.T) {
	mux := newProcessor(&captured{}).Mux()

	for _, typ := range []string{alerts.TaskNotification, alerts.TaskOpsAlert} {
		err := mux.ProcessTask(context.Background(), asynq.NewTask(typ, []byte("{not json")))
		assert.ErrorIs(t, err, asynq.SkipRetry, typ)
	}
}

func TestProcessor_OpsAlertWithoutMailerIsLogged(t *testing.T) {
	mux := newProcessor(&captured{}).Mux()

	b, _ := json.Marshal(alerts.OpsAlertPayload{RequestID: "req-1", Severity: "warning", Message: "no providers"})
	assert.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(alerts.TaskOpsAlert, b)))
}
