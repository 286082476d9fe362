package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer runs a Server on an ephemeral port and tears it down
// with the test.
func startTestServer(t *testing.T) *Server {
	t.Helper()

	srv := NewServer(0, zerolog.Nop())
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})
	return srv
}

func serverURL(srv *Server, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", srv.Port(), path)
}

func TestNewServer(t *testing.T) {
	srv := NewServer(9100, zerolog.Nop())

	assert.Equal(t, 9100, srv.Port())
	assert.NotNil(t, srv.mux)
	assert.Nil(t, srv.server, "nothing should be serving before Start")
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := startTestServer(t)

	resp, err := http.Get(serverURL(srv, "/health"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health struct {
		Status    string    `json:"status"`
		Service   string    `json:"service"`
		Version   string    `json:"version"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "regulens", health.Service)
	assert.NotEmpty(t, health.Version)
	assert.WithinDuration(t, time.Now().UTC(), health.Timestamp, time.Minute)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	scrapeProbe := promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulens_scrape_probe_total",
		Help: "Counter proving the scrape surface serves application metrics",
	})
	scrapeProbe.Inc()

	srv := startTestServer(t)

	resp, err := http.Get(serverURL(srv, "/metrics"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# HELP")
	assert.Contains(t, string(body), "regulens_scrape_probe_total 1")
}

func TestServer_RegisterHandler(t *testing.T) {
	srv := startTestServer(t)

	srv.RegisterHandler("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	resp, err := http.Get(serverURL(srv, "/ready"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ready", string(body))
}

func TestServer_StartFailsWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(ln.Addr().(*net.TCPAddr).Port, zerolog.Nop())
	err = srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind metrics listener")
}

func TestServer_ShutdownStopsServing(t *testing.T) {
	srv := NewServer(0, zerolog.Nop())
	require.NoError(t, srv.Start())

	resp, err := http.Get(serverURL(srv, "/health"))
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get(serverURL(srv, "/health"))
	assert.Error(t, err, "a stopped server should refuse connections")
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	srv := NewServer(9100, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestServer_MultipleInstances(t *testing.T) {
	first := startTestServer(t)
	second := startTestServer(t)

	require.NotEqual(t, first.Port(), second.Port())

	for _, srv := range []*Server{first, second} {
		resp, err := http.Get(serverURL(srv, "/health"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}
