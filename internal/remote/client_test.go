package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"drinky-board/internal/model"
)

func serve(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", time.Second, srv.Client())
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func TestConnectionStatus(t *testing.T) {
	t.Parallel()
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connection-status" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		reply(200, `{"connected":true,"status":"connected","message":"Device connected on port COM3","port":"COM3","lastHeartbeat":1700000000.5}`)(w, r)
	})
	st, err := c.ConnectionStatus(context.Background())
	if err != nil {
		t.Fatalf("ConnectionStatus failed: %v", err)
	}
	if !st.Connected() || st.Port != "COM3" || st.Message != "Device connected on port COM3" {
		t.Fatalf("unexpected state: %+v", st)
	}
	if want := time.Unix(1700000000, 500_000_000); !st.LastHeartbeat.Equal(want) {
		t.Fatalf("heartbeat: want %v, got %v", want, st.LastHeartbeat)
	}
}

func TestConnectionStatusFromConnectedFlag(t *testing.T) {
	t.Parallel()
	c := serve(t, reply(200, `{"connected":false,"status":"unresponsive","message":"Device on port COM3 is not responding","port":"COM3","lastHeartbeat":null}`))
	st, err := c.ConnectionStatus(context.Background())
	if err != nil {
		t.Fatalf("ConnectionStatus failed: %v", err)
	}
	if st.Status != model.StatusDisconnected {
		t.Fatalf("want disconnected, got %s", st.Status)
	}
	if !st.LastHeartbeat.IsZero() {
		t.Fatalf("null heartbeat should stay zero")
	}
}

func TestConnectionStatusFailures(t *testing.T) {
	t.Parallel()
	for name, tc := range map[string]struct {
		h    http.HandlerFunc
		kind Kind
	}{
		"server error": {reply(500, `{}`), KindProtocol},
		"not json":     {reply(200, `<html>`), KindProtocol},
	} {
		c := serve(t, tc.h)
		_, err := c.ConnectionStatus(context.Background())
		if KindOf(err) != tc.kind {
			t.Fatalf("%s: want %s, got %v", name, tc.kind, err)
		}
	}

	srv := httptest.NewServer(reply(200, `{}`))
	srv.Close()
	_, err := New(srv.URL, time.Second, nil).ConnectionStatus(context.Background())
	if KindOf(err) != KindTransport {
		t.Fatalf("closed server: want transport, got %v", err)
	}
}

func TestTimeoutIsTransport(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, 50*time.Millisecond, srv.Client())
	_, err := c.ConnectionStatus(context.Background())
	if KindOf(err) != KindTransport {
		t.Fatalf("want transport on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded in chain, got %v", err)
	}
}

func TestListenRequestBody(t *testing.T) {
	t.Parallel()
	bodies := make(chan map[string]any, 1)
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/direct-input/listen" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		bodies <- body
		reply(200, `{"success":true,"message":"Pressed KeyA","modifiers":["ShiftLeft"]}`)(w, r)
	})
	a, err := c.Listen(context.Background(), model.KeyEvent{Code: "KeyA", Phase: model.PhaseDown, Sequence: 7})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	want := map[string]any{"code": "KeyA", "data": []any{}, "type": "keydown"}
	if got := <-bodies; !reflect.DeepEqual(got, want) {
		t.Fatalf("body: want %v, got %v", want, got)
	}
	if a.Message != "Pressed KeyA" || len(a.Modifiers) != 1 {
		t.Fatalf("unexpected ack: %+v", a)
	}
}

func TestListenClassification(t *testing.T) {
	t.Parallel()
	for name, tc := range map[string]struct {
		h      http.HandlerFunc
		kind   Kind
		status int
	}{
		"device disconnected": {reply(500, `{"success":false,"message":"Device disconnected","deviceDisconnected":true}`), KindDeviceUnavailable, 500},
		"bare 5xx":            {reply(503, `oops`), KindDeviceUnavailable, 503},
		"flag on 2xx":         {reply(200, `{"success":false,"deviceDisconnected":true}`), KindDeviceUnavailable, 200},
		"bad request":         {reply(400, `{"success":false,"message":"Invalid event type"}`), KindApplication, 400},
		"unknown key":         {reply(200, `{"success":false,"message":"Unknown key: Foo"}`), KindApplication, 200},
		"unparseable":         {reply(200, `nope`), KindProtocol, 200},
	} {
		c := serve(t, tc.h)
		_, err := c.Listen(context.Background(), model.KeyEvent{Code: "Foo", Phase: model.PhaseUp})
		var re *Error
		if !errors.As(err, &re) {
			t.Fatalf("%s: want *Error, got %v", name, err)
		}
		if re.Kind != tc.kind || re.StatusCode != tc.status {
			t.Fatalf("%s: want %s/%d, got %s/%d", name, tc.kind, tc.status, re.Kind, re.StatusCode)
		}
	}
}

func TestCollectionCalls(t *testing.T) {
	t.Parallel()
	type call struct{ method, path, body string }
	var (
		mu    sync.Mutex
		calls []call
	)
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.EscapedPath(), string(b)})
		mu.Unlock()
		switch r.URL.Path {
		case "/profiles/get-all":
			reply(200, `{"success":true,"items":[
				{"id":"b","data":{"name":"Slow","isActive":false,"wpm":30,"created":"2024-01-01T00:00:00Z"}},
				{"id":"a","data":{"name":"Fast","description":"quick","isActive":true,"wpm":90,"keyDuration":0.05}}]}`)(w, r)
		case "/profiles/add":
			reply(200, `{"success":true,"id":"new-id"}`)(w, r)
		case "/profiles/edit/missing":
			reply(404, `{"success":false,"message":"Not found"}`)(w, r)
		default:
			reply(200, `{"success":true}`)(w, r)
		}
	})
	ctx := context.Background()

	items, err := c.GetAll(ctx, "profiles")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if got := model.IDs(items); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("order not preserved: %v", got)
	}
	if items[1].Description != "quick" || !items[1].IsActive || items[1].Params["keyDuration"] != 0.05 {
		t.Fatalf("unexpected item: %+v", items[1])
	}

	id, err := c.Add(ctx, "profiles", model.Item{Name: "New", Params: map[string]float64{"wpm": 60}})
	if err != nil || id != "new-id" {
		t.Fatalf("Add: id %q err %v", id, err)
	}
	err = c.Edit(ctx, "profiles", "missing", model.Item{Name: "x"})
	if re := (*Error)(nil); !errors.As(err, &re) || re.Kind != KindApplication || re.StatusCode != 404 || re.Message != "Not found" {
		t.Fatalf("Edit missing: %v", err)
	}
	if err := c.Delete(ctx, "profiles", "a b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := c.DeactivateExcept(ctx, "profiles", "a"); err != nil {
		t.Fatalf("DeactivateExcept failed: %v", err)
	}
	if err := c.UpdateOrder(ctx, "profiles", nil); err != nil {
		t.Fatalf("UpdateOrder failed: %v", err)
	}

	want := []call{
		{"GET", "/profiles/get-all", ""},
		{"POST", "/profiles/add", `{"isActive":false,"name":"New","wpm":60}`},
		{"PUT", "/profiles/edit/missing", `{"isActive":false,"name":"x"}`},
		{"DELETE", "/profiles/delete/a%20b", ""},
		{"PUT", "/profiles/deactivate-except/a", ""},
		{"PUT", "/profiles/update-order", `[]`},
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls:\nwant %v\ngot  %v", want, calls)
	}
}

func TestAddWithoutIDIsProtocol(t *testing.T) {
	t.Parallel()
	c := serve(t, reply(200, `{"success":true}`))
	if _, err := c.Add(context.Background(), "sequences", model.Item{Name: "x"}); KindOf(err) != KindProtocol {
		t.Fatalf("want protocol error, got %v", err)
	}
}

func TestUserMessage(t *testing.T) {
	t.Parallel()
	if got := UserMessage(&Error{Kind: KindTransport, Op: "x"}); got != "Control service unreachable" {
		t.Fatalf("unexpected transport message %q", got)
	}
	if got := UserMessage(Errorf(KindApplication, "x", "Missing field: %s", "wpm")); got != "Missing field: wpm" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := UserMessage(errors.New("boom")); got != "Request failed" {
		t.Fatalf("unexpected fallback %q", got)
	}
}
