package mapview

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	geojson "github.com/paulmach/go.geojson"
	"github.com/skypies/geo"

	"github.com/signalsfoundry/orbit-tracker/core"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/render"
)

func newTestServer(t *testing.T, opts Options) (*Server, *Layer, []render.Marker, *httptest.Server) {
	t.Helper()
	layer := NewLayer()
	markers, err := layer.AddMarkers(testFeatures("A", "B"))
	if err != nil {
		t.Fatalf("AddMarkers: %v", err)
	}
	srv := NewServer(layer, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, layer, markers, ts
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestViewEndpoint(t *testing.T) {
	srv, _, _, ts := newTestServer(t, Options{View: ViewConfig{
		Center:     geo.Latlong{Lat: 48.13, Long: 11.57},
		Zoom:       4,
		TileSource: "https://tiles.example/{z}/{x}/{y}.png",
	}})
	srv.SetAttribution(model.FeedEpoch(time.Date(2024, 4, 9, 6, 30, 0, 0, time.UTC)).Attribution())

	resp, body := get(t, ts.URL+"/api/v1/view")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var view viewResponse
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Center != [2]float64{48.13, 11.57} || view.Zoom != 4 {
		t.Fatalf("view = %+v", view)
	}
	if view.Attribution != "TLE: 06:30:00 UTC" {
		t.Fatalf("attribution = %q", view.Attribution)
	}
}

func TestFeaturesAndOrbitEndpoints(t *testing.T) {
	_, layer, markers, ts := newTestServer(t, Options{})
	markers[1].SetPosition(-3, -150)

	resp, body := get(t, ts.URL+"/api/v1/features")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("features status = %d", resp.StatusCode)
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		t.Fatalf("decode features: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}
	if p := fc.Features[1].Geometry.Point; p[0] != -150 || p[1] != -3 {
		t.Fatalf("moved point = %v, want [-150 -3]", p)
	}

	if resp, _ := get(t, ts.URL+"/api/v1/orbit"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("empty orbit status = %d, want 204", resp.StatusCode)
	}
	layer.Overlay().Show(core.SegmentFeatures([]model.OrbitSegment{{{1, 1}, {2, 2}}}))
	resp, body = get(t, ts.URL+"/api/v1/orbit")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "LineString") {
		t.Fatalf("orbit status=%d body=%s", resp.StatusCode, body)
	}
}

func TestHealthReadyAndMetrics(t *testing.T) {
	var ready atomic.Bool
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tracker_updates_total 0\n"))
	})
	_, _, _, ts := newTestServer(t, Options{Ready: ready.Load, Metrics: metrics})

	if resp, _ := get(t, ts.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	if resp, _ := get(t, ts.URL+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before ready = %d, want 503", resp.StatusCode)
	}
	ready.Store(true)
	if resp, _ := get(t, ts.URL+"/readyz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz after ready = %d, want 200", resp.StatusCode)
	}
	if _, body := get(t, ts.URL+"/metrics"); !strings.Contains(string(body), "tracker_updates_total") {
		t.Fatalf("metrics body = %q", body)
	}
}

func TestWebsocketSnapshotsAndSelect(t *testing.T) {
	_, layer, markers, ts := newTestServer(t, Options{})
	events := make(chan render.Event, 8)
	layer.Subscribe(func(ev render.Event) {
		if ev.Type != render.EventMove {
			events <- ev
		}
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first serverMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "markers" || len(first.Markers) != 2 {
		t.Fatalf("first message = %+v", first)
	}

	if err := conn.WriteJSON(map[string]any{"type": "select", "index": 1}); err != nil {
		t.Fatalf("write select: %v", err)
	}
	select {
	case ev := <-events:
		if ev != (render.Event{Type: render.EventSelect, Index: 1}) {
			t.Fatalf("event = %v, want select 1", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no select event")
	}

	markers[0].SetPosition(7, 8)
	deadline := time.Now().Add(2 * time.Second)
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if len(msg.Markers) == 2 && msg.Markers[0].Lat == 7 && msg.Markers[1].Open {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw moved marker with open popup")
		}
	}

	if err := conn.WriteJSON(map[string]any{"type": "deselect"}); err != nil {
		t.Fatalf("write deselect: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Type != render.EventDeselect || ev.Index != 1 {
			t.Fatalf("event = %v, want deselect 1", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no deselect event")
	}
}
