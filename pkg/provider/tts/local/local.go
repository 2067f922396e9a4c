// Package local provides an on-device TTS provider that runs a synthesizer
// command such as espeak-ng or piper. The reply text is written to the
// command's stdin and a WAV document is read from its stdout. No network is
// involved.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/MrWong99/sous/pkg/provider"
	"github.com/MrWong99/sous/pkg/provider/tts"
	"github.com/mattn/go-shellwords"
)

// DefaultCommand synthesises with espeak-ng.
const DefaultCommand = "espeak-ng --stdin --stdout"

// voicePlaceholder in a command is replaced with the request's voice ID.
const voicePlaceholder = "{voice}"

// Provider implements tts.Provider by executing a local command.
type Provider struct {
	args []string
}

var _ tts.Provider = (*Provider)(nil)

// New parses command with shell quoting rules. An empty command selects
// [DefaultCommand]. The token {voice} is substituted per request.
func New(command string) (*Provider, error) {
	if command == "" {
		command = DefaultCommand
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("local: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("local: command is empty")
	}
	return &Provider{args: args}, nil
}

// Synthesize runs the command to completion and returns its stdout.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	args := make([]string, 0, len(p.args))
	for _, a := range p.args {
		args = append(args, strings.ReplaceAll(a, voicePlaceholder, req.Voice.ID))
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(req.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("local: run %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("local: %s produced no audio: %w", args[0], provider.ErrDecode)
	}
	return &tts.Audio{Body: io.NopCloser(&stdout), Encoding: tts.EncodingWAV}, nil
}
