package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publisherSpy struct {
	routingKeys []string
	headers     []map[string]string
	err         error
}

func (p *publisherSpy) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	p.headers = append(p.headers, headers)
	return p.err
}

func TestPublishEventWithoutPublisherIsNoOp(t *testing.T) {
	SetPublisher(nil)
	err := PublishEvent(context.Background(), "ws_events.stub", EventEnvelope{EventName: "ws_connect"}, nil)
	assert.NoError(t, err)
}

func TestPublishEventForwardsToPublisher(t *testing.T) {
	spy := &publisherSpy{}
	SetPublisher(spy)
	defer SetPublisher(nil)

	headers := BuildHeaders("req-1", "trace-1")
	err := PublishEvent(context.Background(), "ws_events.stub", EventEnvelope{EventName: "ws_connect"}, headers)
	require.NoError(t, err)
	require.Len(t, spy.routingKeys, 1)
	assert.Equal(t, "ws_events.stub", spy.routingKeys[0])
	assert.Equal(t, headers, spy.headers[0])
}

func TestBuildHeadersSkipsEmptyValues(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))

	headers := BuildHeaders("req-1", "")
	assert.Equal(t, map[string]string{"x-request-id": "req-1"}, headers)

	headers = BuildHeaders("req-1", "trace-1")
	assert.Equal(t, "trace-1", headers["trace_id"])
}

func TestIPFromRequestPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", IPFromRequest(req))
}

func TestRequestIDFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, RequestIDFromRequest(req))
	req.Header.Set("X-Request-Id", "req-1")
	assert.Equal(t, "req-1", RequestIDFromRequest(req))
}
