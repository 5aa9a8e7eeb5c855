package gibridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gibridge/gibridge/webhook"
)

func newTestApp(ft *fakeTransport) *App {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewApp(testCatalog(), ft).WithLogger(logger)
}

func decodeResult(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var envelope struct {
		Result map[string]any `json:"result"`
		Error  *Error         `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error != nil {
		t.Fatalf("unexpected error response: %v", envelope.Error)
	}
	return envelope.Result
}

func decodeError(t *testing.T, body io.Reader) *Error {
	t.Helper()
	var envelope struct {
		Error *Error `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error == nil {
		t.Fatal("expected error envelope")
	}
	return envelope.Error
}

func TestApp_CallWithQueryArgs(t *testing.T) {
	var gotArgs []any
	ft := &fakeTransport{
		callFn: func(symbol string, desc *CallableDescriptor, args []any) (map[string]any, error) {
			gotArgs = args
			return map[string]any{"return": float64(3)}, nil
		},
	}
	app := newTestApp(ft)

	req := httptest.NewRequest("GET", "/Gst/Buffer/set_format?self=ptr,0xABC&format=time", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if gotArgs[0] != "0xABC" || gotArgs[1] != int64(3) {
		t.Errorf("transport args = %v, want [0xABC 3]", gotArgs)
	}
	res := decodeResult(t, w.Body)
	if res["return"] != "time" {
		t.Errorf("return = %v, want time", res["return"])
	}
}

func TestApp_CallWithJSONBody(t *testing.T) {
	var gotArgs []any
	ft := &fakeTransport{
		callFn: func(symbol string, desc *CallableDescriptor, args []any) (map[string]any, error) {
			gotArgs = args
			return map[string]any{"return": true}, nil
		},
	}
	app := newTestApp(ft)

	body := `{"self": {"ptr": "0x10"}, "dest": {"ptr": "0x20"}}`
	req := httptest.NewRequest("POST", "/Gst/Element/link", strings.NewReader(body))
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if gotArgs[0] != "0x10" || gotArgs[1] != "0x20" {
		t.Errorf("transport args = %v, want [0x10 0x20]", gotArgs)
	}
}

func TestApp_RefArgsFromQuery(t *testing.T) {
	var gotArgs []any
	ft := &fakeTransport{
		callFn: func(symbol string, desc *CallableDescriptor, args []any) (map[string]any, error) {
			gotArgs = args
			return map[string]any{"return": true}, nil
		},
	}
	app := newTestApp(ft)

	// Declared reference arguments use the same non-exploded
	// "ptr,<value>" query form as self and must unwrap the same way.
	req := httptest.NewRequest("GET", "/Gst/Element/link?self=ptr,0x1&dest=ptr,0x2", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if len(gotArgs) != 2 || gotArgs[0] != "0x1" || gotArgs[1] != "0x2" {
		t.Errorf("transport args = %v, want [0x1 0x2]", gotArgs)
	}
}

func TestApp_MissingArgument(t *testing.T) {
	called := false
	ft := &fakeTransport{
		callFn: func(symbol string, desc *CallableDescriptor, args []any) (map[string]any, error) {
			called = true
			return nil, nil
		},
	}
	app := newTestApp(ft)

	req := httptest.NewRequest("GET", "/Gst/Element/link?self=ptr,0x1", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	svcErr := decodeError(t, w.Body)
	if svcErr.Code != CodeInvalidArgument {
		t.Errorf("code = %q, want invalid_argument", svcErr.Code)
	}
	if !strings.Contains(svcErr.Message, "dest") {
		t.Errorf("message %q does not name the missing argument", svcErr.Message)
	}
	if called {
		t.Error("transport was invoked despite the missing argument")
	}
}

func TestApp_ShortFormFunction(t *testing.T) {
	called := false
	ft := &fakeTransport{
		callFn: func(symbol string, desc *CallableDescriptor, args []any) (map[string]any, error) {
			called = true
			return map[string]any{"major": float64(1), "minor": float64(22)}, nil
		},
	}
	app := newTestApp(ft)

	req := httptest.NewRequest("GET", "/Gst/version", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK || !called {
		t.Fatalf("status = %d, called = %v", w.Code, called)
	}
	res := decodeResult(t, w.Body)
	if res["major"] != float64(1) || res["minor"] != float64(22) {
		t.Errorf("result = %v", res)
	}
}

func TestApp_NotFound(t *testing.T) {
	app := newTestApp(&fakeTransport{})

	for _, path := range []string{
		"/Gst/nope",
		"/Gst/Missing/new",
		"/Other/version",
		"/Gst",
		"/",
	} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		app.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, w.Code)
		}
	}
}

func TestApp_MethodNotAllowed(t *testing.T) {
	app := newTestApp(&fakeTransport{})

	tests := []struct {
		method, path string
	}{
		{"DELETE", "/Gst/version"},
		{"PUT", "/Gst/Buffer/get_size"},
		{"GET", "/Gst/Meta/flags/put"},
		{"POST", "/Gst/callbacks"},
		{"GET", "/Gst/webhooks"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		w := httptest.NewRecorder()
		app.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, want 405", tt.method, tt.path, w.Code)
		}
		svcErr := decodeError(t, w.Body)
		if svcErr.Code != CodeMethodNotAllowed {
			t.Errorf("%s %s code = %q, want method_not_allowed", tt.method, tt.path, svcErr.Code)
		}
	}
}

func TestApp_FieldPut(t *testing.T) {
	var setValue any
	ft := &fakeTransport{
		setFn: func(ptr string, offset int, typ TypeDescriptor, value any) error {
			setValue = value
			return nil
		},
	}
	app := newTestApp(ft)

	body := `{"self": {"ptr": "0x1"}, "value": 9}`
	req := httptest.NewRequest("PUT", "/Gst/Meta/flags/put", strings.NewReader(body))
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if setValue != float64(9) {
		t.Errorf("set value = %v (%T), want 9", setValue, setValue)
	}
}

func TestApp_FieldPutQueryValue(t *testing.T) {
	var setValue any
	ft := &fakeTransport{
		setFn: func(ptr string, offset int, typ TypeDescriptor, value any) error {
			setValue = value
			return nil
		},
	}
	app := newTestApp(ft)

	req := httptest.NewRequest("POST", "/Gst/Meta/flags/put?self=ptr,0x1&value=9", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	// The value coerces to the declared integer type before dispatch.
	if setValue != int64(9) {
		t.Errorf("set value = %v (%T), want int64(9)", setValue, setValue)
	}
}

func TestApp_GenericNewAndFree(t *testing.T) {
	var freed string
	ft := &fakeTransport{
		allocFn: func(size int) (string, error) { return "0xA1", nil },
		freeFn:  func(ptr string) error { freed = ptr; return nil },
	}
	app := newTestApp(ft)

	req := httptest.NewRequest("GET", "/Gst/Meta/new", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("new status = %d, body = %s", w.Code, w.Body)
	}
	res := decodeResult(t, w.Body)
	ref, ok := res["return"].(map[string]any)
	if !ok || ref["ptr"] != "0xA1" {
		t.Fatalf("new result = %v, want wrapped pointer", res)
	}

	req = httptest.NewRequest("GET", "/Gst/Meta/free?self=ptr,0xA1", nil)
	w = httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("free status = %d, body = %s", w.Code, w.Body)
	}
	if freed != "0xA1" {
		t.Errorf("freed = %q, want 0xA1", freed)
	}
}

func TestApp_InvalidArgument(t *testing.T) {
	app := newTestApp(&fakeTransport{})

	req := httptest.NewRequest("GET", "/Gst/Buffer/set_format?self=ptr,0x1&format=warp", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	svcErr := decodeError(t, w.Body)
	if svcErr.Code != CodeInvalidArgument {
		t.Errorf("code = %q, want invalid_argument", svcErr.Code)
	}
}

func TestApp_PanicRecovery(t *testing.T) {
	ft := &fakeTransport{
		callFn: func(symbol string, desc *CallableDescriptor, args []any) (map[string]any, error) {
			panic("transport exploded")
		},
	}
	app := newTestApp(ft)

	req := httptest.NewRequest("GET", "/Gst/version", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	svcErr := decodeError(t, w.Body)
	if svcErr.Code != CodeInternal {
		t.Errorf("code = %q, want internal", svcErr.Code)
	}
}

func TestApp_Interceptor(t *testing.T) {
	var seen []string
	ft := &fakeTransport{}
	app := newTestApp(ft).WithUnaryInterceptor(
		func(ctx context.Context, args map[string]any, handler HandlerFunc) (any, error) {
			id, _ := OperationFromContext(ctx)
			seen = append(seen, id.String())
			return handler(ctx, args)
		},
	)

	req := httptest.NewRequest("GET", "/Gst/version", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(seen) != 1 || seen[0] != "Gst-version" {
		t.Errorf("interceptor saw %v, want [Gst-version]", seen)
	}
}

func TestApp_Middleware(t *testing.T) {
	app := newTestApp(&fakeTransport{}).WithMiddleware(
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Test", "wrapped")
				next.ServeHTTP(w, r)
			})
		},
	)

	req := httptest.NewRequest("GET", "/Gst/version", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Test"); got != "wrapped" {
		t.Errorf("X-Test = %q, want wrapped", got)
	}
}

func TestApp_EventStream(t *testing.T) {
	app := newTestApp(&fakeTransport{})
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	// An event pushed before the client connects replays from the ring.
	app.PushEvent(map[string]any{"callback": "probe", "args": []any{float64(1)}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/Gst/callbacks", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET callbacks: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	app.PushEvent(map[string]any{"callback": "probe", "args": []any{float64(2)}})

	var ids []string
	var payloads []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(payloads) < 2 {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		case strings.HasPrefix(line, "data: "):
			var envelope struct {
				Result map[string]any `json:"result"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &envelope); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			payloads = append(payloads, envelope.Result)
		}
	}

	if len(payloads) != 2 {
		t.Fatalf("events received = %d, want 2", len(payloads))
	}
	if ids[0] != "0" || ids[1] != "1" {
		t.Errorf("event ids = %v, want [0 1]", ids)
	}
	if payloads[0]["callback"] != "probe" {
		t.Errorf("payload = %v", payloads[0])
	}
}

func TestApp_WebhookDelivery(t *testing.T) {
	type delivery struct {
		payload   any
		signature string
		timestamp string
		eventID   string
	}
	received := make(chan delivery, 1)

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode delivery: %v", err)
		}
		received <- delivery{
			payload:   payload,
			signature: r.Header.Get(webhook.HeaderSignature),
			timestamp: r.Header.Get(webhook.HeaderTimestamp),
			eventID:   r.Header.Get(webhook.HeaderEventID),
		}
	}))
	defer receiver.Close()

	app := newTestApp(&fakeTransport{})
	defer app.Close()

	body, _ := json.Marshal(map[string]any{
		"url":    receiver.URL,
		"secret": "s3cret",
	})
	req := httptest.NewRequest("POST", "/Gst/webhooks", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body)
	}
	res := decodeResult(t, w.Body)
	if res["id"] == "" || res["id"] == nil {
		t.Fatal("registration returned no session id")
	}

	app.PushEvent(map[string]any{"callback": "probe"})

	select {
	case d := <-received:
		if d.eventID == "" || d.timestamp == "" {
			t.Errorf("delivery headers missing: %+v", d)
		}
		signer := webhook.NewSigner("s3cret")
		if !signer.Verify(d.payload, d.timestamp, d.signature) {
			t.Error("delivery signature does not verify")
		}
		m, ok := d.payload.(map[string]any)
		if !ok || m["callback"] != "probe" {
			t.Errorf("payload = %v", d.payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook delivery did not arrive")
	}
}

func TestApp_WebhookRegistrationValidation(t *testing.T) {
	app := newTestApp(&fakeTransport{})

	tests := []string{
		`{"secret": "s"}`,
		`{"url": "not a url", "secret": "s"}`,
		`{"url": "http://example.com/hook"}`,
	}
	for _, body := range tests {
		req := httptest.NewRequest("POST", "/Gst/webhooks", strings.NewReader(body))
		w := httptest.NewRecorder()
		app.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s status = %d, want 400", body, w.Code)
		}
	}
}
