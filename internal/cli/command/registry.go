package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
)

var fileFields = []Field{
	{Name: "filename", Aliases: []string{"name"}, Prompt: "filename", Type: FieldString, Required: true},
	{Name: "language", Aliases: []string{"lang"}, Prompt: "language (cpp|py)", Type: FieldString, Required: true},
}

var codeFields = append(append([]Field(nil), fileFields...),
	Field{Name: "code", Prompt: "code", Type: FieldString, Required: true},
	Field{Name: "file", Aliases: []string{"src"}, Prompt: "file", Type: FieldFile},
	Field{Name: "input", Aliases: []string{"stdin"}, Prompt: "input", Type: FieldString},
	Field{Name: "input_file", Prompt: "input_file", Type: FieldFile},
	Field{Name: "time_limit", Aliases: []string{"time"}, Prompt: "time_limit (seconds)", Type: FieldInt64},
	Field{Name: "memory_limit", Aliases: []string{"mem", "memory"}, Prompt: "memory_limit (MB)", Type: FieldInt64},
)

// Registry returns all gateway commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:   "run",
			Method: http.MethodPost,
			Path:   "/run",
			Usage:  "run file=./main.py [input=...] [time=2] [mem=128]",
			Fields: codeFields,
		},
		{
			Name:   "save",
			Method: http.MethodPost,
			Path:   "/save",
			Usage:  "save file=./main.cpp",
			Fields: codeFields,
		},
		{
			Name:   "load",
			Method: http.MethodGet,
			Path:   "/code",
			Usage:  "load filename=main.cpp language=cpp",
			Fields: fileFields,
		},
		{
			Name:   "check",
			Method: http.MethodGet,
			Path:   "/check",
			Usage:  "check filename=main.py language=py",
			Fields: fileFields,
		},
		{
			Name:   "watch",
			Method: http.MethodGet,
			Path:   "/check",
			Usage:  "watch filename=main.py language=py",
			Fields: fileFields,
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// ApplyShortcuts fills filename, language and code from a file= param.
func ApplyShortcuts(cmd Command, params Params) error {
	params.Canonicalize(cmd.Fields)
	path := params.Get("file")
	if path == "" {
		return nil
	}
	if params.Get("filename") == "" {
		params.Set("filename", filepath.Base(path))
	}
	if params.Get("language") == "" {
		if lang := LanguageFromExt(path); lang != "" {
			params.Set("language", lang)
		}
	}
	if params.Get("code") == "" && hasField(cmd, "code") {
		code, err := ReadFile(path)
		if err != nil {
			return err
		}
		params.Set("code", code)
	}
	return nil
}

// LanguageFromExt maps a source file extension to a language tag.
func LanguageFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cpp", ".cc", ".cxx", ".c++":
		return "cpp"
	case ".py":
		return "py"
	default:
		return ""
	}
}

// Missing lists required fields without a value.
func Missing(cmd Command, params Params) []Field {
	var out []Field
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			out = append(out, field)
		}
	}
	return out
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if missing := Missing(cmd, params); len(missing) > 0 {
		return RequestSpec{}, fmt.Errorf("%s is required", missing[0].Name)
	}
	spec := RequestSpec{Method: cmd.Method, Path: cmd.Path}
	if cmd.Method == http.MethodGet {
		spec.Query = url.Values{
			"filename": {params.Get("filename")},
			"language": {params.Get("language")},
		}
		return spec, nil
	}
	payload, err := buildCodePayload(params)
	if err != nil {
		return RequestSpec{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
	}
	spec.Body = body
	return spec, nil
}

type codePayload struct {
	Filename    string `json:"filename"`
	Language    string `json:"language"`
	Code        string `json:"code"`
	Input       string `json:"input,omitempty"`
	TimeLimit   int64  `json:"time_limit,omitempty"`
	MemoryLimit int64  `json:"memory_limit,omitempty"`
}

func buildCodePayload(params Params) (codePayload, error) {
	payload := codePayload{
		Filename: params.Get("filename"),
		Language: params.Get("language"),
		Code:     params.Get("code"),
		Input:    params.Get("input"),
	}
	if payload.Input == "" && params.Get("input_file") != "" {
		input, err := ReadFile(params.Get("input_file"))
		if err != nil {
			return codePayload{}, err
		}
		payload.Input = input
	}
	if raw := params.Get("time_limit"); raw != "" {
		n, err := ParseInt64(raw)
		if err != nil {
			return codePayload{}, fmt.Errorf("invalid time_limit: %w", err)
		}
		payload.TimeLimit = n
	}
	if raw := params.Get("memory_limit"); raw != "" {
		n, err := ParseInt64(raw)
		if err != nil {
			return codePayload{}, fmt.Errorf("invalid memory_limit: %w", err)
		}
		payload.MemoryLimit = n
	}
	return payload, nil
}

func hasField(cmd Command, name string) bool {
	for _, field := range cmd.Fields {
		if field.Name == name {
			return true
		}
	}
	return false
}
