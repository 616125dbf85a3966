package httppost

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octera-energy/surplus-manager/internal/core"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l.WithField("test", true)
}

func TestActuator_TurnOnPostsExpectedBody(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewActuator("http_post", map[string]string{"heater": srv.URL}, time.Second, quietLogger())

	err := a.TurnOn(t.Context(), "heater")
	require.NoError(t, err)
	assert.Equal(t, "/state", gotPath)
	assert.Equal(t, "on", gotBody["state"])
}

func TestActuator_RegulatePostsWattage(t *testing.T) {
	var gotBody map[string]float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewActuator("http_post", map[string]string{"pump": srv.URL}, time.Second, quietLogger())

	err := a.Regulate(t.Context(), "pump", 1500)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, gotBody["power"])
}

func TestActuator_NonOKStatusIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewActuator("http_post", map[string]string{"heater": srv.URL}, time.Second, quietLogger())

	err := a.TurnOff(t.Context(), "heater")
	require.Error(t, err)
	var connErr *core.IntegrationConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestActuator_UnknownDeviceIsConnectionError(t *testing.T) {
	a := NewActuator("http_post", map[string]string{}, time.Second, quietLogger())

	err := a.TurnOn(t.Context(), "unknown")
	require.Error(t, err)
	var connErr *core.IntegrationConnectionError
	assert.ErrorAs(t, err, &connErr)
}
