package main

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/sous/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Providers.STT.APIKey = "dg-test"
	cfg.Providers.Assistant.BaseURL = "http://recipes.local"
	return cfg
}

func TestBuildProviders_Defaults(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(testConfig(), reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Capture == nil || ps.STT == nil || ps.DeviceTTS == nil || ps.Assistant == nil || ps.Sink == nil {
		t.Fatalf("missing provider: %+v", ps)
	}
	if ps.TTS == nil {
		t.Error("remote voice not created")
	}
	if ps.Credential == nil {
		t.Error("recipe service should supply the credential fetch")
	}
}

func TestBuildProviders_UnknownRemoteVoiceIsOptional(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	cfg := testConfig()
	cfg.Providers.TTS.Name = "polly"

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.TTS != nil {
		t.Error("unknown remote voice should be left nil")
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	cfg := testConfig()
	cfg.Providers.Sink.Name = "alsa"
	cfg.Providers.Assistant.BaseURL = ""

	_, err := buildProviders(cfg, reg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "assistant") {
		t.Errorf("err = %v, want the assistant failure joined in", err)
	}
}

func TestPrintStartupSummary(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.STT.Model = "nova-3-general-extended"

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg)
	out := buf.String()

	for _, want := range []string{"deepgram / nova-...", "recipeservice", "chef", ":8080"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format config.LogFormat
		want   string
	}{
		{format: config.LogFormatJSON, want: `"msg":"hello"`},
		{format: config.LogFormatText, want: "msg=hello"},
	}
	for _, tc := range tests {
		t.Run(string(tc.format), func(t *testing.T) {
			var buf bytes.Buffer
			level := new(slog.LevelVar)
			logger := newLogger(&buf, tc.format, level)

			logger.Debug("hidden")
			logger.Info("hello")
			level.Set(slog.LevelDebug)
			logger.Debug("shown")

			out := buf.String()
			if !strings.Contains(out, tc.want) {
				t.Errorf("output %q missing %q", out, tc.want)
			}
			if strings.Contains(out, "hidden") {
				t.Error("debug record logged at info level")
			}
			if !strings.Contains(out, "shown") {
				t.Error("level change not applied")
			}
		})
	}
}
