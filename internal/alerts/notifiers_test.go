package alerts_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/alerts"
	"github.com/meanishn/platform/internal/ports"
)

type countingSink struct {
	calls atomic.Int32
	err   error
}

func (c *countingSink) Notify(context.Context, ports.Notification) error {
	c.calls.Add(1)
	return c.err
}

func TestMulti_TriesEverySink(t *testing.T) {
	boom := errors.New("boom")
	a, b, c := &countingSink{}, &countingSink{err: boom}, &countingSink{}

	err := alerts.Multi{a, b, c, alerts.LogNotifier{Logger: zap.NewNop()}}.Notify(context.Background(), ports.Notification{Kind: ports.NotifyOfferCreated})

	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
	assert.EqualValues(t, 1, c.calls.Load())
}

func TestMulti_NoErrors(t *testing.T) {
	assert.NoError(t, alerts.Multi{&countingSink{}}.Notify(context.Background(), ports.Notification{}))
	assert.NoError(t, alerts.Multi{}.Notify(context.Background(), ports.Notification{}))
}

func TestNewMailer(t *testing.T) {
	_, err := alerts.NewMailer(alerts.MailConfig{})
	assert.Error(t, err, "smtp needs credentials")

	_, err = alerts.NewMailer(alerts.MailConfig{Provider: "pigeon"})
	assert.Error(t, err)

	m, err := alerts.NewMailer(alerts.MailConfig{Provider: "plunk", Plunk: alerts.PlunkConfig{APIKey: "k"}})
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = alerts.NewMailer(alerts.MailConfig{SMTP: alerts.SMTPConfig{
		Host: "smtp.example.com", Port: "465", Username: "u", Password: "p", From: "ops@example.com",
	}})
	require.NoError(t, err)
	assert.NotNil(t, m)
}
