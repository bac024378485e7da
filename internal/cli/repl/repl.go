package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"rexe/internal/cli/command"
	httpclient "rexe/internal/cli/http"
	"rexe/internal/cli/state"
	"rexe/internal/execute/sandbox/result"
	pkgerrors "rexe/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const defaultPrompt = "rexe> "

// Options tunes a session.
type Options struct {
	PrettyJSON    bool
	WatchInterval time.Duration
	WatchTimeout  time.Duration
	Out           io.Writer
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	statePath  string
	opts       Options
	// prompt asks for a missing field; nil disables prompting.
	prompt func(label string) (string, error)
	now    func() time.Time
}

func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, statePath string, opts Options) *Session {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = time.Second
	}
	if opts.WatchTimeout <= 0 {
		opts.WatchTimeout = 2 * time.Minute
	}
	return &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		statePath:  statePath,
		opts:       opts,
		now:        time.Now,
	}
}

// Completer offers command names for tab completion.
func Completer(commands map[string]command.Command) *readline.PrefixCompleter {
	names := []string{"help", "exit", "login", "logout", "set base", "set timeout", "show token", "show config"}
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	items := make([]readline.PrefixCompleterInterface, 0, len(names))
	for _, name := range names {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads lines until exit, EOF or interrupt.
func (s *Session) Run(ctx context.Context, rl *readline.Instance) {
	s.prompt = func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt(defaultPrompt)
		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	rl.SetPrompt(defaultPrompt)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) && line != "" {
				continue
			}
			s.printLine("bye")
			return
		}
		if s.Execute(ctx, line) {
			s.printLine("bye")
			return
		}
	}
}

// Execute handles one input line and reports whether the session should end.
func (s *Session) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	switch line {
	case "exit", "quit":
		return true
	case "help":
		s.printHelp()
		return false
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		s.printLine("error: parse command failed: %v", err)
		return false
	}
	if err := s.dispatch(ctx, tokens); err != nil {
		s.printLine("error: %v", err)
	}
	return false
}

func (s *Session) dispatch(ctx context.Context, tokens []string) error {
	switch tokens[0] {
	case "login":
		if len(tokens) != 2 {
			return fmt.Errorf("usage: login <token>")
		}
		return s.login(tokens[1])
	case "logout":
		return s.logout(ctx)
	case "set":
		s.handleSet(tokens[1:])
		return nil
	case "show":
		s.handleShow(tokens[1:])
		return nil
	}

	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s (try help)", tokens[0])
	}
	params, err := command.ParseArgs(tokens[1:])
	if err != nil {
		return err
	}
	if err := command.ApplyShortcuts(cmd, params); err != nil {
		return err
	}
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	if s.tokenState.AccessToken == "" {
		return fmt.Errorf("not logged in, use: login <token>")
	}
	if cmd.Name == "watch" {
		return s.watch(ctx, req)
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Query, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) login(raw string) error {
	st, err := state.FromToken(raw)
	if err != nil {
		return err
	}
	if st.Expired(s.now()) {
		return fmt.Errorf("token expired at %s", st.ExpiresAt.Format(time.RFC3339))
	}
	*s.tokenState = st
	if err := state.Save(s.statePath, st); err != nil {
		return err
	}
	s.client.ClearCookies()
	if st.Username != "" {
		s.printLine("logged in as %s", st.Username)
	} else {
		s.printLine("token updated")
	}
	return nil
}

func (s *Session) logout(ctx context.Context) error {
	if s.tokenState.AccessToken != "" {
		resp, err := s.client.Do(ctx, http.MethodPost, "/sign-out", nil, nil)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized {
			s.renderResponse(resp)
			return fmt.Errorf("sign out failed")
		}
	}
	*s.tokenState = state.TokenState{}
	s.client.ClearCookies()
	if err := state.Clear(s.statePath); err != nil {
		return err
	}
	s.printLine("logged out")
	return nil
}

type envelope struct {
	Code    pkgerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
}

// watch polls /check until the answer is no longer pending.
func (s *Session) watch(ctx context.Context, req command.RequestSpec) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.WatchTimeout)
	defer cancel()
	ticker := time.NewTicker(s.opts.WatchInterval)
	defer ticker.Stop()
	for {
		resp, err := s.client.Do(ctx, req.Method, req.Path, req.Query, req.Body)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("still pending after %s", s.opts.WatchTimeout)
			}
			return err
		}
		var env envelope
		if err := json.Unmarshal(resp.Body, &env); err != nil || env.Code != pkgerrors.Success {
			s.renderResponse(resp)
			return nil
		}
		var res result.Result
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return fmt.Errorf("decode result failed: %w", err)
		}
		switch {
		case res.Status.Terminal():
			s.renderJSON(env.Data)
			return nil
		case res.Status == result.StatusStop:
			s.renderJSON(env.Data)
			s.printLine("no result will arrive for this submission, run it again")
			return nil
		case res.Status != result.StatusPending:
			return fmt.Errorf("unexpected status %q", res.Status)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("still pending after %s", s.opts.WatchTimeout)
		case <-ticker.C:
		}
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	if s.prompt == nil {
		return nil
	}
	for _, field := range command.Missing(cmd, params) {
		value, err := s.prompt(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) handleSet(args []string) {
	if len(args) != 2 {
		s.printLine("usage: set base <url> | set timeout <duration>")
		return
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.client.ClearCookies()
		s.printLine("base set to %s", args[1])
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args []string) {
	if len(args) != 1 {
		s.printLine("usage: show token|config")
		return
	}
	switch args[0] {
	case "token":
		if s.tokenState.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.tokenState.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s user: %s", token, s.tokenState.Username)
		if !s.tokenState.ExpiresAt.IsZero() {
			s.printLine("expires: %s", s.tokenState.ExpiresAt.Format(time.RFC3339))
		}
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.statePath)
	default:
		s.printLine("usage: show token|config")
	}
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	s.renderJSON(resp.Body)
}

func (s *Session) renderJSON(body []byte) {
	if s.opts.PrettyJSON {
		var raw interface{}
		if err := json.Unmarshal(body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <command> key=value ...")
	s.printLine("system: help | exit | login <token> | logout | set base|timeout | show token|config")
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.printLine("  %s", s.commands[name].Usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.opts.Out, format+"\n", args...)
}
