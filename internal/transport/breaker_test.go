package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreakers(threshold int, cooldown time.Duration) (*Breakers, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreakers(BreakerConfig{FailureThreshold: threshold, Cooldown: cooldown, HalfOpenMax: 1})
	b.now = clock.now
	return b, clock
}

var (
	errServer = &Error{Kind: KindProtocol, StatusCode: http.StatusBadGateway}
	errClient = &Error{Kind: KindProtocol, StatusCode: http.StatusNotFound}
	errConn   = &Error{Kind: KindNetwork, Cause: errors.New("connection refused")}
)

func TestBreakers_StartsClosed(t *testing.T) {
	b, _ := newTestBreakers(3, time.Second)
	assert.NoError(t, b.Allow("api.example.com"))
	assert.Equal(t, CircuitClosed, b.State("api.example.com"))
}

func TestBreakers_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreakers(3, 10*time.Second)

	b.Record("h", errServer)
	b.Record("h", errConn)
	assert.Equal(t, CircuitClosed, b.State("h"))

	b.Record("h", errServer)
	assert.Equal(t, CircuitOpen, b.State("h"))

	err := b.Allow("h")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	assert.NoError(t, b.Allow("other"), "breakers are per host")
}

func TestBreakers_ClientErrorsDoNotCount(t *testing.T) {
	b, _ := newTestBreakers(2, time.Second)
	for i := 0; i < 5; i++ {
		b.Record("h", errClient)
	}
	assert.Equal(t, CircuitClosed, b.State("h"))
}

func TestBreakers_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreakers(3, time.Second)
	b.Record("h", errServer)
	b.Record("h", errServer)
	b.Record("h", nil)
	b.Record("h", errServer)
	b.Record("h", errServer)
	assert.Equal(t, CircuitClosed, b.State("h"))
}

func TestBreakers_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreakers(1, time.Minute)
	b.Record("h", errConn)
	require.Equal(t, CircuitOpen, b.State("h"))

	clock.t = clock.t.Add(time.Minute)
	require.NoError(t, b.Allow("h"), "first request after cooldown probes")
	assert.ErrorIs(t, b.Allow("h"), ErrCircuitOpen, "only one probe at a time")

	b.Record("h", nil)
	assert.Equal(t, CircuitClosed, b.State("h"))
	assert.NoError(t, b.Allow("h"))
}

func TestBreakers_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreakers(1, time.Minute)
	b.Record("h", errConn)
	clock.t = clock.t.Add(time.Minute)
	require.NoError(t, b.Allow("h"))

	b.Record("h", errServer)
	assert.Equal(t, CircuitOpen, b.State("h"))
	assert.ErrorIs(t, b.Allow("h"), ErrCircuitOpen)
}

func TestDo_BreakerRejectsAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{Breaker: &BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}})
	req := &Request{URL: srv.URL, RetryCount: 1, RetryDelayMs: 1}

	_, err := c.Do(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.Do(context.Background(), req)
	require.Error(t, err)
	terr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, terr.Kind)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load(), "open circuit sends nothing")
}
