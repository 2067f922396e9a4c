package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/sous/pkg/provider"
	"github.com/MrWong99/sous/pkg/provider/tts"
)

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestSynthesize_Standard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("text") != "boil the pasta" || q.Get("speaker_id") != "p225" || q.Get("language_id") != "en" {
			t.Errorf("unexpected query %v", q)
		}
		_, _ = w.Write([]byte("RIFFdata"))
	}))
	defer srv.Close()

	p, _ := New(srv.URL + "/")
	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "boil the pasta", Voice: tts.VoiceProfile{ID: "p225"}})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	defer audio.Body.Close()
	body, _ := io.ReadAll(audio.Body)
	if string(body) != "RIFFdata" || audio.Encoding != tts.EncodingWAV {
		t.Errorf("got %q (%s)", body, audio.Encoding)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != xttsEndpoint {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body xttsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.SpeakerWav != "chef.wav" || body.Language != "de" {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("de"))
	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "hallo", Voice: tts.VoiceProfile{ID: "chef.wav"}})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	audio.Body.Close()

	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hallo"}); err == nil {
		t.Error("expected error for XTTS without voice")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x"})
	if !errors.Is(err, provider.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}
