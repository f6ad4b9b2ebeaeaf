// Package execagent runs an external command for each matching event. The
// command reads the event as JSON on stdin and may print findings as JSON on
// stdout; any other output is kept as the result message.
package execagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/domain/agent"
	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/domain/finding"
	"github.com/Strob0t/Overwatch/internal/service"
)

const (
	defaultTimeout = time.Minute
	waitDelay      = 5 * time.Second
	maxMessageLen  = 512
)

// Agent is a command-backed service.Agent.
type Agent struct {
	name    string
	topics  []string
	command string
	args    []string
	dir     string
	timeout time.Duration
}

// New builds an agent from its config. Commands run in dir, normally the
// project root.
func New(cfg config.Agent, dir string) *Agent {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Agent{
		name:    cfg.Name,
		topics:  cfg.Topics,
		command: cfg.Command,
		args:    cfg.Args,
		dir:     dir,
		timeout: timeout,
	}
}

func (a *Agent) Name() string     { return a.name }
func (a *Agent) Topics() []string { return a.topics }

// Handle runs the command once. A non-zero exit or a timeout is returned as
// an error, which the runner records as a failed result.
func (a *Agent) Handle(ctx context.Context, ev event.Event) (*agent.Result, error) {
	input, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.command, a.args...) //nolint:gosec // G204: command comes from operator config
	cmd.Dir = a.dir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(os.Environ(),
		"OVERWATCH_AGENT="+a.name,
		"OVERWATCH_EVENT_ID="+ev.ID,
		"OVERWATCH_EVENT_TOPIC="+ev.Topic,
		"OVERWATCH_EVENT_SOURCE="+ev.Source,
	)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %s", a.command, a.timeout)
		}
		return nil, fmt.Errorf("%s: %s: %w", a.command, truncate(strings.TrimSpace(stderr.String())), err)
	}

	return a.result(stdout.Bytes())
}

func (a *Agent) result(out []byte) (*agent.Result, error) {
	out = bytes.TrimSpace(out)
	if !json.Valid(out) {
		return &agent.Result{Success: true, Message: truncate(string(out))}, nil
	}

	findings, err := service.DecodeFindings(out)
	if err != nil {
		return nil, err
	}
	if len(findings) == 0 {
		return &agent.Result{Success: true, Message: "no findings"}, nil
	}
	for i := range findings {
		if findings[i].ID == "" {
			findings[i].ID = finding.NewID()
		}
		if findings[i].Agent == "" {
			findings[i].Agent = a.name
		}
	}

	res, err := agent.Result{
		Success: true,
		Message: fmt.Sprintf("%d findings", len(findings)),
	}.WithData(findings)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
