package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"drinky-board/internal/config"
	"drinky-board/internal/db"
	"drinky-board/internal/device"
	"drinky-board/internal/model"
)

type fakeDevice struct {
	mu     sync.Mutex
	status device.Status
	frames []string
	err    error
}

func (d *fakeDevice) Status() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *fakeDevice) Press(code string) error   { return d.record("D " + code) }
func (d *fakeDevice) Release(code string) error { return d.record("U " + code) }

func (d *fakeDevice) record(f string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.frames = append(d.frames, f)
	return nil
}

func newTestServer(t *testing.T, dev *fakeDevice) *Server {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	s := New(store, dev, []config.CollectionConfig{
		{Name: model.CollectionProfiles, Params: model.DefaultParams},
		{Name: model.CollectionSequences, Params: []string{"wpm"}},
	})
	s.KeyHold = 0
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, out
}

func TestConnectionStatus(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	s := newTestServer(t, dev)

	_, body := do(t, s, http.MethodGet, "/connection-status", nil)
	if body["connected"] != false || body["status"] != "disconnected" || body["port"] != nil || body["message"] != "No device found" {
		t.Fatalf("unexpected body: %v", body)
	}

	hb := time.Unix(1_700_000_000, 250_000_000)
	dev.status = device.Status{Attached: true, Connected: true, Port: "COM3", LastHeartbeat: hb}
	_, body = do(t, s, http.MethodGet, "/connection-status", nil)
	if body["connected"] != true || body["port"] != "COM3" || body["lastHeartbeat"] != 1_700_000_000.25 {
		t.Fatalf("unexpected body: %v", body)
	}

	dev.status.Connected = false
	_, body = do(t, s, http.MethodGet, "/connection-status", nil)
	if body["connected"] != false || body["status"] != "unresponsive" || body["port"] != "COM3" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestListen(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	s := newTestServer(t, dev)

	code, body := do(t, s, http.MethodPost, "/direct-input/listen", map[string]any{"code": "ShiftLeft", "data": []any{}, "type": "keydown"})
	if code != 200 || body["success"] != true {
		t.Fatalf("modifier down: %d %v", code, body)
	}
	if mods, _ := body["modifiers"].([]any); len(mods) != 1 || mods[0] != "ShiftLeft" {
		t.Fatalf("modifier not tracked: %v", body["modifiers"])
	}
	do(t, s, http.MethodPost, "/direct-input/listen", map[string]any{"code": "KeyA", "type": "keydown"})
	do(t, s, http.MethodPost, "/direct-input/listen", map[string]any{"code": "KeyA", "type": "keyup"})
	_, body = do(t, s, http.MethodPost, "/direct-input/listen", map[string]any{"code": "ShiftLeft", "type": "keyup"})
	if mods, _ := body["modifiers"].([]any); len(mods) != 0 {
		t.Fatalf("modifier not released: %v", body["modifiers"])
	}

	want := []string{"D ShiftLeft", "D KeyA", "U KeyA", "U ShiftLeft"}
	dev.mu.Lock()
	got := append([]string(nil), dev.frames...)
	dev.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("want frames %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d: want %q, got %q", i, want[i], got[i])
		}
	}

	code, body = do(t, s, http.MethodPost, "/direct-input/listen", map[string]any{"code": "NoSuchKey", "type": "keydown"})
	if code != 200 || body["success"] != false {
		t.Fatalf("unknown key: %d %v", code, body)
	}
	code, _ = do(t, s, http.MethodPost, "/direct-input/listen", map[string]any{"code": "KeyA", "type": "keypress"})
	if code != 400 {
		t.Fatalf("bad type: want 400, got %d", code)
	}
	code, _ = do(t, s, http.MethodPost, "/direct-input/listen", "{")
	if code != 400 {
		t.Fatalf("bad body: want 400, got %d", code)
	}

	dev.mu.Lock()
	dev.err = errors.New("write failed")
	dev.mu.Unlock()
	code, body = do(t, s, http.MethodPost, "/direct-input/listen", map[string]any{"code": "KeyB", "type": "keydown"})
	if code != 500 || body["deviceDisconnected"] != true {
		t.Fatalf("device loss: %d %v", code, body)
	}
}

func profile(name string, active bool) map[string]any {
	return map[string]any{"name": name, "isActive": active, "wpm": 60, "wpmVariation": 5, "keyDuration": 0.05, "keyDurationVariation": 0.01}
}

func TestCollectionLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeDevice{})

	var ids []string
	for _, n := range []string{"A", "B", "C"} {
		code, body := do(t, s, http.MethodPost, "/profiles/add", profile(n, n == "A"))
		if code != 200 || body["success"] != true {
			t.Fatalf("add %s: %d %v", n, code, body)
		}
		ids = append(ids, body["id"].(string))
	}

	code, body := do(t, s, http.MethodPut, "/profiles/edit/"+ids[1], profile("B", true))
	if code != 200 {
		t.Fatalf("edit: %d %v", code, body)
	}
	code, body = do(t, s, http.MethodPut, "/profiles/deactivate-except/"+ids[1], nil)
	if code != 200 || body["success"] != true {
		t.Fatalf("deactivate-except: %d %v", code, body)
	}
	code, _ = do(t, s, http.MethodPut, "/profiles/update-order", []string{ids[2], ids[1], ids[0]})
	if code != 200 {
		t.Fatalf("update-order: %d", code)
	}

	_, body = do(t, s, http.MethodGet, "/profiles/get-all", nil)
	items := body["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("want 3 items, got %v", items)
	}
	for i, want := range []string{ids[2], ids[1], ids[0]} {
		it := items[i].(map[string]any)
		data := it["data"].(map[string]any)
		if it["id"] != want {
			t.Fatalf("position %d: want %s, got %v", i, want, it["id"])
		}
		if active := data["isActive"].(bool); active != (want == ids[1]) {
			t.Fatalf("item %s: isActive %v", want, active)
		}
		if _, ok := data["created"].(string); !ok {
			t.Fatalf("item %s: created missing", want)
		}
	}

	code, _ = do(t, s, http.MethodDelete, "/profiles/delete/"+ids[0], nil)
	if code != 200 {
		t.Fatalf("delete: %d", code)
	}
	_, body = do(t, s, http.MethodGet, "/profiles/get-all", nil)
	if n := len(body["items"].([]any)); n != 2 {
		t.Fatalf("want 2 items after delete, got %d", n)
	}
}

func TestCollectionErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeDevice{})
	for _, tc := range []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodGet, "/widgets/get-all", nil, 404},
		{http.MethodPost, "/profiles/add", map[string]any{"name": "x", "isActive": false}, 400},
		{http.MethodPost, "/profiles/add", map[string]any{"isActive": false, "wpm": 1}, 400},
		{http.MethodPost, "/sequences/add", map[string]any{"name": "x", "wpm": 1}, 400},
		{http.MethodPost, "/profiles/add", "not json", 400},
		{http.MethodPut, "/profiles/edit/missing", profile("x", false), 404},
		{http.MethodDelete, "/profiles/delete/missing", nil, 404},
		{http.MethodPut, "/profiles/deactivate-except/missing", nil, 404},
		{http.MethodPut, "/profiles/update-order", "null", 400},
		{http.MethodPut, "/profiles/update-order", map[string]any{"order": []string{}}, 400},
		{http.MethodGet, "/nowhere", nil, 404},
	} {
		code, body := do(t, s, tc.method, tc.path, tc.body)
		if code != tc.want || body["success"] != false {
			t.Fatalf("%s %s: want %d, got %d %v", tc.method, tc.path, tc.want, code, body)
		}
	}

	code, body := do(t, s, http.MethodPost, "/sequences/add", map[string]any{"name": "seq", "isActive": false, "wpm": 40})
	if code != 200 || body["success"] != true {
		t.Fatalf("sequence with only its params: %d %v", code, body)
	}
}

func TestFailedModifierPressNotHeld(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{err: errors.New("write failed")}
	s := newTestServer(t, dev)

	code, _ := do(t, s, http.MethodPost, "/direct-input/listen", map[string]any{"code": "ControlLeft", "type": "keydown"})
	if code != 500 {
		t.Fatalf("failed press: want 500, got %d", code)
	}
	dev.mu.Lock()
	dev.err = nil
	dev.mu.Unlock()
	_, body := do(t, s, http.MethodPost, "/direct-input/listen", map[string]any{"code": "KeyA", "type": "keydown"})
	if mods, _ := body["modifiers"].([]any); len(mods) != 0 {
		t.Fatalf("modifier recorded after failed press: %v", body["modifiers"])
	}
}
