package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ExpertModeChanged bool
	NewExpertMode     bool

	// RestartRequired names the sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ExpertModeChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs. Log level and expert mode are applied
// live; every other change is listed in RestartRequired.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Conversation.ExpertMode != new.Conversation.ExpertMode {
		d.ExpertModeChanged = true
		d.NewExpertMode = new.Conversation.ExpertMode
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Turn != new.Turn {
		d.RestartRequired = append(d.RestartRequired, "turn")
	}
	if old.Speech != new.Speech {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	oc, nc := old.Conversation, new.Conversation
	oc.ExpertMode, nc.ExpertMode = false, false
	if oc != nc {
		d.RestartRequired = append(d.RestartRequired, "conversation")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	pairs := [][2]ProviderEntry{
		{a.Capture, b.Capture},
		{a.STT, b.STT},
		{a.TTS, b.TTS},
		{a.DeviceTTS, b.DeviceTTS},
		{a.Assistant, b.Assistant},
		{a.Sink, b.Sink},
	}
	for _, p := range pairs {
		if !entryEqual(p[0], p[1]) {
			return false
		}
	}
	return true
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
