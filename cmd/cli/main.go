package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"rexe/internal/cli/command"
	"rexe/internal/cli/config"
	"rexe/internal/cli/http"
	"rexe/internal/cli/repl"
	"rexe/internal/cli/state"

	"github.com/chzyer/readline"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	statePath := flag.String("state", "", "Override token state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.TokenStatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	tokenState, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load token state failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		if tokenState, err = state.FromToken(*token); err != nil {
			fmt.Fprintf(os.Stderr, "invalid token: %v\n", err)
			os.Exit(1)
		}
	}

	client, err := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return tokenState.AccessToken
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init http client failed: %v\n", err)
		os.Exit(1)
	}

	commands := command.Registry()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "rexe> ",
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    repl.Completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init terminal failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	session := repl.New(client, commands, &tokenState, cfg.TokenStatePath, repl.Options{
		PrettyJSON:    cfg.PrettyJSON != nil && *cfg.PrettyJSON,
		WatchInterval: cfg.WatchInterval,
		WatchTimeout:  cfg.WatchTimeout,
		Out:           rl.Stdout(),
	})
	session.Run(context.Background(), rl)
}
