package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	name      string
	calls     int
	failFirst int // fail this many calls before succeeding
	err       error
	transient bool
}

func (s *stubClient) Generate(_ context.Context, _ *Request) (*Response, error) {
	s.calls++
	if s.calls <= s.failFirst {
		return nil, s.err
	}
	return &Response{Text: s.name + " ok"}, nil
}

func (s *stubClient) Provider() string { return s.name }

func (s *stubClient) IsTransientError(err error) bool { return s.transient }

func TestRetryClientRetriesTransientErrors(t *testing.T) {
	inner := &stubClient{name: "flaky", failFirst: 2, err: errors.New("503 overloaded"), transient: true}
	rc := NewRetryClient(inner, 3, time.Millisecond)

	resp, err := rc.Generate(context.Background(), &Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "flaky ok", resp.Text)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryClientStopsOnPermanentError(t *testing.T) {
	inner := &stubClient{name: "broken", failFirst: 10, err: errors.New("401 unauthorized"), transient: false}
	rc := NewRetryClient(inner, 3, time.Millisecond)

	_, err := rc.Generate(context.Background(), &Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls, "non-transient errors must not be retried")
}

func TestRetryClientGivesUpAfterMaxRetries(t *testing.T) {
	inner := &stubClient{name: "down", failFirst: 10, err: errors.New("503"), transient: true}
	rc := NewRetryClient(inner, 2, time.Millisecond)

	_, err := rc.Generate(context.Background(), &Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls, "one initial attempt plus two retries")
}

func TestFallbackClientTriesNextProvider(t *testing.T) {
	first := &stubClient{name: "primary", failFirst: 10, err: errors.New("boom")}
	second := &stubClient{name: "secondary"}
	fb := &FallbackClient{Clients: []Client{first, second}}

	resp, err := fb.Generate(context.Background(), &Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "secondary ok", resp.Text)
}

func TestFallbackClientReportsLastError(t *testing.T) {
	first := &stubClient{name: "a", failFirst: 10, err: errors.New("first down")}
	second := &stubClient{name: "b", failFirst: 10, err: errors.New("second down")}
	fb := &FallbackClient{Clients: []Client{first, second}}

	_, err := fb.Generate(context.Background(), &Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second down")
}
