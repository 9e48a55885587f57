package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSendCustom(t *testing.T) {
	d := &fakeDialer{}
	svc := NewService(d, "alerts@caregem.example")

	err := svc.SendCustom(context.Background(), []string{"a@example.com", "b@example.com"}, "Reading alert", "hr 140")
	require.NoError(t, err)
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, d.sent[0].GetHeader("Bcc"))
	assert.Equal(t, []string{"Reading alert"}, d.sent[0].GetHeader("Subject"))
}

func TestSendCustomNoRecipients(t *testing.T) {
	d := &fakeDialer{}
	require.NoError(t, NewService(d, "alerts@caregem.example").SendCustom(context.Background(), nil, "s", "b"))
	assert.Empty(t, d.sent)
}

func TestSendCustomDialError(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	err := NewService(d, "alerts@caregem.example").SendCustom(context.Background(), []string{"a@example.com"}, "s", "b")
	assert.ErrorContains(t, err, "connection refused")
}

func TestSendCustomCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &fakeDialer{}
	err := NewService(d, "alerts@caregem.example").SendCustom(ctx, []string{"a@example.com"}, "s", "b")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.sent)
}
