package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaykit/copilot-relay/internal/alias"
	"github.com/relaykit/copilot-relay/internal/credential"
	"github.com/relaykit/copilot-relay/internal/domain"
)

type staticRefresher struct {
	cred *credential.Credential
	err  error
}

func (s *staticRefresher) Refresh(ctx context.Context) (*credential.Credential, error) {
	return s.cred, s.err
}

func newTestRelay(t *testing.T, endpoint string) *Relay {
	t.Helper()
	store := credential.NewStore()
	store.Replace(&credential.Credential{Token: "tok", Endpoint: endpoint})
	coord := credential.NewCoordinator(store, &staticRefresher{err: errors.New("no refresh in this test")})
	return New(alias.Default(), coord, http.DefaultClient)
}

func chatRequest(model string) domain.ChatRequest {
	return domain.ChatRequest{
		Model: model,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: domain.MessageContent{Text: "hello"}},
		},
	}
}

func collect(t *testing.T, events <-chan []byte, errs <-chan error) []string {
	t.Helper()
	var got []string
	for p := range events {
		got = append(got, string(p))
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	return got
}

func TestStream_ForcesStreamingAndNormalizesModel(t *testing.T) {
	var received domain.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	r := newTestRelay(t, srv.URL)
	events, errs, err := r.Stream(context.Background(), chatRequest("claude-opus-4-6"))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	collect(t, events, errs)

	if received.Model != "claude-opus-4.6-1m" {
		t.Errorf("upstream model = %q, want claude-opus-4.6-1m", received.Model)
	}
	if !received.Stream {
		t.Error("stream must be forced on regardless of the client request")
	}
}

func TestStream_Headers(t *testing.T) {
	tests := []struct {
		name          string
		messages      []domain.Message
		wantInitiator string
		wantVision    bool
	}{
		{
			name: "plain user conversation",
			messages: []domain.Message{
				{Role: domain.RoleUser, Content: domain.MessageContent{Text: "hi"}},
			},
			wantInitiator: "user",
		},
		{
			name: "assistant turn marks call agent-initiated",
			messages: []domain.Message{
				{Role: domain.RoleUser, Content: domain.MessageContent{Text: "hi"}},
				{Role: domain.RoleAssistant, Content: domain.MessageContent{Text: "hello"}},
				{Role: domain.RoleUser, Content: domain.MessageContent{Text: "more"}},
			},
			wantInitiator: "agent",
		},
		{
			name: "tool turn marks call agent-initiated",
			messages: []domain.Message{
				{Role: domain.RoleTool, Content: domain.MessageContent{Text: "result"}, ToolCallID: "c1"},
			},
			wantInitiator: "agent",
		},
		{
			name: "image part enables vision header",
			messages: []domain.Message{
				{Role: domain.RoleUser, Content: domain.MessageContent{Parts: []domain.ContentPart{
					{Type: "text", Text: "what is this"},
					{Type: "image_url", ImageURL: &domain.ImageURL{URL: "data:image/png;base64,xyz"}},
				}}},
			},
			wantInitiator: "user",
			wantVision:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotInitiator, gotVision, gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotInitiator = r.Header.Get("X-Initiator")
				gotVision = r.Header.Get("Copilot-Vision-Request")
				gotAuth = r.Header.Get("Authorization")
				fmt.Fprint(w, "data: [DONE]\n\n")
			}))
			defer srv.Close()

			r := newTestRelay(t, srv.URL)
			req := domain.ChatRequest{Model: "claude-opus-4.6-1m", Messages: tt.messages}
			events, errs, err := r.Stream(context.Background(), req)
			if err != nil {
				t.Fatalf("Stream() error = %v", err)
			}
			collect(t, events, errs)

			if gotInitiator != tt.wantInitiator {
				t.Errorf("X-Initiator = %q, want %q", gotInitiator, tt.wantInitiator)
			}
			if (gotVision == "true") != tt.wantVision {
				t.Errorf("Copilot-Vision-Request = %q, want vision=%v", gotVision, tt.wantVision)
			}
			if gotAuth != "Bearer tok" {
				t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
			}
		})
	}
}

func TestStream_EmitsPayloadsIncludingSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"id\":\"1\"}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {\"id\":\"2\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	r := newTestRelay(t, srv.URL)
	events, errs, err := r.Stream(context.Background(), chatRequest("m"))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	got := collect(t, events, errs)

	want := []string{`{"id":"1"}`, `{"id":"2"}`, "[DONE]"}
	if len(got) != len(want) {
		t.Fatalf("payloads = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("payload[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStream_UpstreamErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	r := newTestRelay(t, srv.URL)
	_, _, err := r.Stream(context.Background(), chatRequest("m"))

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *domain.UpstreamError", err)
	}
	if ue.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", ue.StatusCode)
	}
	if string(ue.Body) != `{"error":"overloaded"}` {
		t.Errorf("body = %q, want upstream body verbatim", ue.Body)
	}
}

func TestStream_RefreshesOnUnauthorized(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") == "Bearer expired" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	store := credential.NewStore()
	store.Replace(&credential.Credential{Token: "expired", Endpoint: srv.URL})
	coord := credential.NewCoordinator(store, &staticRefresher{
		cred: &credential.Credential{Token: "fresh", Endpoint: srv.URL},
	})
	r := New(alias.Default(), coord, http.DefaultClient)

	events, errs, err := r.Stream(context.Background(), chatRequest("m"))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	collect(t, events, errs)

	if calls != 2 {
		t.Errorf("upstream called %d times, want 2 (original plus retried)", calls)
	}
}

func TestStream_MissingCredential(t *testing.T) {
	coord := credential.NewCoordinator(credential.NewStore(), &staticRefresher{err: errors.New("nope")})
	r := New(alias.Default(), coord, http.DefaultClient)

	_, _, err := r.Stream(context.Background(), chatRequest("m"))
	if !errors.Is(err, domain.ErrCredentialMissing) {
		t.Errorf("error = %v, want ErrCredentialMissing", err)
	}
}
