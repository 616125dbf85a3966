package httpget

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l.WithField("test", true)
}

func TestPoller_ParsesBareNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1234.5"))
	}))
	defer srv.Close()

	var got atomic.Value
	p := NewPoller(quietLogger(), srv.URL, time.Second, time.Hour, func(v float64) { got.Store(v) })

	p.pollOnce(t.Context())
	require.NotNil(t, got.Load())
	assert.Equal(t, 1234.5, got.Load())
}

func TestPoller_ParsesJSONEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value": 842}`))
	}))
	defer srv.Close()

	var got atomic.Value
	p := NewPoller(quietLogger(), srv.URL, time.Second, time.Hour, func(v float64) { got.Store(v) })

	p.pollOnce(t.Context())
	require.NotNil(t, got.Load())
	assert.Equal(t, 842.0, got.Load())
}

func TestPoller_FailedPollDoesNotReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reported := false
	p := NewPoller(quietLogger(), srv.URL, time.Second, time.Hour, func(v float64) { reported = true })

	p.pollOnce(t.Context())
	assert.False(t, reported)
}
