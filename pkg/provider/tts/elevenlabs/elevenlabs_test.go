package elevenlabs

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

func TestBuildRequestBody(t *testing.T) {
	tests := []struct {
		name      string
		voice     tts.VoiceProfile
		wantModel string
		wantStab  float64
		wantSim   float64
	}{
		{name: "defaults", voice: tts.VoiceProfile{}, wantModel: defaultModel, wantStab: 0.5, wantSim: 0.5},
		{name: "explicit", voice: tts.VoiceProfile{Model: "eleven_flash_v2_5", Stability: 0.3, SimilarityBoost: 0.9}, wantModel: "eleven_flash_v2_5", wantStab: 0.3, wantSim: 0.9},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := buildRequestBody(tts.Request{Text: "Try a stir fry.", Voice: tc.voice}, defaultModel)
			if err != nil {
				t.Fatalf("buildRequestBody: %v", err)
			}
			var got synthesizeRequest
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Text != "Try a stir fry." {
				t.Errorf("text = %q", got.Text)
			}
			if got.ModelID != tc.wantModel {
				t.Errorf("model_id = %q, want %q", got.ModelID, tc.wantModel)
			}
			if got.VoiceSettings.Stability != tc.wantStab || got.VoiceSettings.SimilarityBoost != tc.wantSim {
				t.Errorf("voice_settings = %+v", got.VoiceSettings)
			}
		})
	}
}

func TestSynthesize_Success(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "hello", Credential: "k-123"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	defer audio.Body.Close()

	if gotPath != "/v1/text-to-speech/"+DefaultVoiceID {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "k-123" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if audio.Encoding != tts.EncodingMP3 {
		t.Errorf("encoding = %q", audio.Encoding)
	}
	body, _ := io.ReadAll(audio.Body)
	if string(body) != "ID3-fake-mp3" {
		t.Errorf("body = %q", body)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "unauthorised",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
			},
			want: provider.ErrNetwork,
		},
		{
			name: "json instead of audio",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"detail":"quota"}`))
			},
			want: provider.ErrDecode,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := New(WithBaseURL(srv.URL)).Synthesize(context.Background(), tts.Request{Text: "x", Credential: "k"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSynthesize_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(WithBaseURL(url)).Synthesize(context.Background(), tts.Request{Text: "x", Credential: "k"})
	if !errors.Is(err, provider.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestSynthesize_EmptyCredential(t *testing.T) {
	if _, err := New().Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
		t.Fatal("expected error for empty credential")
	}
}
