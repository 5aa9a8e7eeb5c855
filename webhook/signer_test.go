package webhook

import (
	"net/http"
	"strings"
	"testing"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("s3cret")
	payload := map[string]any{"callback": "probe", "args": []any{1, "two"}}

	sig, err := s.Sign(payload, "2026-08-30T10:00:00Z")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !s.Verify(payload, "2026-08-30T10:00:00Z", sig) {
		t.Error("signature does not verify against the signed payload")
	}
}

func TestSigner_RejectsMutation(t *testing.T) {
	s := NewSigner("s3cret")
	payload := map[string]any{"callback": "probe"}

	sig, err := s.Sign(payload, "2026-08-30T10:00:00Z")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if s.Verify(map[string]any{"callback": "tampered"}, "2026-08-30T10:00:00Z", sig) {
		t.Error("mutated payload verified")
	}
	if s.Verify(payload, "2026-08-30T10:00:01Z", sig) {
		t.Error("mutated timestamp verified")
	}
	if NewSigner("other").Verify(payload, "2026-08-30T10:00:00Z", sig) {
		t.Error("wrong secret verified")
	}
}

func TestCanonicalJSON_KeyOrder(t *testing.T) {
	// The same logical payload serialized from different Go shapes must
	// canonicalize to identical bytes, or signatures would depend on the
	// sender's struct layout.
	type event struct {
		Callback string `json:"callback"`
		Seq      int64  `json:"seq"`
	}
	a, err := CanonicalJSON(event{Callback: "probe", Seq: 7})
	if err != nil {
		t.Fatalf("CanonicalJSON(struct): %v", err)
	}
	b, err := CanonicalJSON(map[string]any{"seq": 7, "callback": "probe"})
	if err != nil {
		t.Fatalf("CanonicalJSON(map): %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("canonical forms differ: %s vs %s", a, b)
	}
	if want := `{"callback":"probe","seq":7}`; string(a) != want {
		t.Errorf("canonical = %s, want %s", a, want)
	}
}

func TestSignRequest_SetsHeaders(t *testing.T) {
	s := NewSigner("s3cret")
	h := make(http.Header)
	payload := map[string]any{"callback": "probe"}

	if err := s.SignRequest(h, payload, "evt-1"); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	if h.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
	if h.Get(HeaderEventID) != "evt-1" {
		t.Errorf("event id header = %q", h.Get(HeaderEventID))
	}
	ts := h.Get(HeaderTimestamp)
	if !strings.HasSuffix(ts, "Z") {
		t.Errorf("timestamp %q is not UTC", ts)
	}
	if !s.Verify(payload, ts, h.Get(HeaderSignature)) {
		t.Error("header signature does not verify")
	}
}
