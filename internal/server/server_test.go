package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	sml "github.com/ashajkofci/gosml"
	"github.com/ashajkofci/gosml/internal/config"
)

type fakeSource struct {
	mu       sync.Mutex
	readings sml.Readings
	last     time.Time
}

func (f *fakeSource) Snapshot() sml.Readings {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(sml.Readings, len(f.readings))
	for k, v := range f.readings {
		out[k] = v
	}
	return out
}

func (f *fakeSource) Value(name string) (sml.Reading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.readings[name]
	return r, ok
}

func (f *fakeSource) LastFrame() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func newTestServer(source Source) *Server {
	return New(source, Options{
		Meter: config.MeterConfig{Name: "meter1", StaleAfter: config.Duration{Duration: time.Minute}},
		Entities: []config.EntityConfig{
			{Name: "imported", Offset: 171, Unit: "kWh", DeviceClass: "energy"},
			{Name: "exported", Offset: 202, Unit: "kWh"},
		},
		CorsOrigins: []string{"http://localhost:3000"},
		Logger:      zerolog.Nop(),
	})
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadings(t *testing.T) {
	source := &fakeSource{
		readings: sml.Readings{
			"imported": {Name: "imported", Offset: 171, Value: 12.3456, Present: true},
			"exported": {Name: "exported", Offset: 202, Value: 7.891, Present: true},
		},
		last: time.Now(),
	}
	s := newTestServer(source)

	w := get(t, s, "/readings")
	require.Equal(t, http.StatusOK, w.Code)
	var msg readingsMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "meter1", msg.Meter)
	require.Len(t, msg.Readings, 2)
	assert.Equal(t, "exported", msg.Readings[0].Name)
	assert.Equal(t, "imported", msg.Readings[1].Name)
	assert.Equal(t, "energy", msg.Readings[1].DeviceClass)
	assert.Equal(t, 12.3456, msg.Readings[1].Value)

	w = get(t, s, "/readings/imported")
	require.Equal(t, http.StatusOK, w.Code)
	var view ReadingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "kWh", view.Unit)
	assert.True(t, view.Present)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/readings/voltage").Code)
}

func TestReadingNotYetDecoded(t *testing.T) {
	s := newTestServer(&fakeSource{readings: sml.Readings{}})
	w := get(t, s, "/readings/imported")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no reading yet")
}

func TestHealth(t *testing.T) {
	source := &fakeSource{readings: sml.Readings{}}
	s := newTestServer(source)

	w := get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"stale"`)

	source.mu.Lock()
	source.last = time.Now()
	source.mu.Unlock()
	w = get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	source.mu.Lock()
	source.last = time.Now().Add(-2 * time.Minute)
	source.mu.Unlock()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/health").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeSource{})
	w := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStream(t *testing.T) {
	s := newTestServer(&fakeSource{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.hub.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Publish(sml.Readings{
		"imported": {Name: "imported", Value: 1.5, Present: true},
		"exported": {Name: "exported", Present: false},
	})

	var msg readingsMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Len(t, msg.Readings, 2)
	assert.Equal(t, "exported", msg.Readings[0].Name)
	assert.False(t, msg.Readings[0].Present)
	assert.Equal(t, 1.5, msg.Readings[1].Value)
	assert.Equal(t, "kWh", msg.Readings[1].Unit)
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"localhost:3000", "192.168.*.*:*"},
		originPatterns([]string{"http://localhost:3000", "192.168.*.*:*"}))
}
