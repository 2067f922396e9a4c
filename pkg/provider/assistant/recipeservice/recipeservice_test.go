package recipeservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/sous/pkg/provider"
)

func TestReply(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "ok", status: http.StatusOK, body: `{"content":"Try a stir fry."}`, want: "Try a stir fry."},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantErr: provider.ErrNetwork},
		{name: "malformed", status: http.StatusOK, body: `not json`, wantErr: provider.ErrDecode},
		{name: "empty object", status: http.StatusOK, body: `{}`, wantErr: provider.ErrDecode},
		{name: "content missing", status: http.StatusOK, body: `{"foo":1}`, wantErr: provider.ErrDecode},
		{name: "null content", status: http.StatusOK, body: `{"content":null}`, wantErr: provider.ErrDecode},
		{name: "empty content", status: http.StatusOK, body: `{"content":""}`, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got chatMessage
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != chatPath {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				if r.Header.Get("Authorization") != "Bearer tok" {
					t.Errorf("authorization = %q", r.Header.Get("Authorization"))
				}
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, err := New(srv.URL, WithToken("tok"))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			reply, err := c.Reply(context.Background(), "i have chicken and rice")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Reply: %v", err)
			}
			if reply != tc.want {
				t.Errorf("reply = %q, want %q", reply, tc.want)
			}
			if got.Content != "i have chicken and rice" {
				t.Errorf("sent content = %q", got.Content)
			}
		})
	}
}

func TestElevenLabsKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "plain", status: http.StatusOK, body: "sk_abc\n", want: "sk_abc"},
		{name: "quoted", status: http.StatusOK, body: `"sk_abc"`, want: "sk_abc"},
		{name: "empty", status: http.StatusOK, body: "  ", wantErr: provider.ErrDecode},
		{name: "forbidden", status: http.StatusForbidden, wantErr: provider.ErrNetwork},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != credentialPath {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, _ := New(srv.URL)
			key, err := c.ElevenLabsKey(context.Background())
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ElevenLabsKey: %v", err)
			}
			if key != tc.want {
				t.Errorf("key = %q, want %q", key, tc.want)
			}
		})
	}
}

func TestReply_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url)
	if _, err := c.Reply(context.Background(), "x"); !errors.Is(err, provider.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}
