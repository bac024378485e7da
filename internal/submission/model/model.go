// Package model holds the submission data shared by the gateway, workers and the ingestor.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Language is a supported language tag.
type Language string

const (
	LanguageCpp    Language = "cpp"
	LanguagePython Language = "py"
)

// SupportedLanguages lists every language a worker can serve.
var SupportedLanguages = []Language{LanguageCpp, LanguagePython}

// ParseLanguage validates a language tag.
func ParseLanguage(raw string) (Language, bool) {
	for _, lang := range SupportedLanguages {
		if string(lang) == raw {
			return lang, true
		}
	}
	return "", false
}

// Payload is the submission document kept in the object store.
// There is at most one payload per Key; saving overwrites it.
type Payload struct {
	Code        string   `json:"code"`
	Input       string   `json:"input"`
	Filename    string   `json:"filename"`
	Language    Language `json:"language"`
	TimeLimit   int64    `json:"time_limit"`
	MemoryLimit int64    `json:"memory_limit"`
}

// Fingerprint hashes every field that influences execution.
// Filename is part of the key, not of the content, and is excluded.
func (p Payload) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{
		p.Code,
		p.Input,
		string(p.Language),
		strconv.FormatInt(p.TimeLimit, 10),
		strconv.FormatInt(p.MemoryLimit, 10),
	} {
		// Length prefixes keep field boundaries unambiguous.
		fmt.Fprintf(h, "%d:%s;", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Key identifies a submission: one live payload per (user, file, language).
type Key struct {
	Username string
	Filename string
	Language Language
}

// NewKey builds a key for username and a payload.
func NewKey(username string, p Payload) Key {
	return Key{Username: username, Filename: p.Filename, Language: p.Language}
}

// String renders the key as "username/filename/language".
// Components never contain "/" so the rendering is reversible.
func (k Key) String() string {
	return k.Username + "/" + k.Filename + "/" + string(k.Language)
}

// ParseKey reverses Key.String.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Key{}, fmt.Errorf("invalid submission key %q", raw)
	}
	lang, ok := ParseLanguage(parts[2])
	if !ok {
		return Key{}, fmt.Errorf("invalid submission key language %q", parts[2])
	}
	return Key{Username: parts[0], Filename: parts[1], Language: lang}, nil
}

// Key component limits, bounded by the completions table columns.
const (
	MaxUsernameLen = 64
	MaxFilenameLen = 255
)

// ValidUsername reports whether s can be used as the username of a key.
func ValidUsername(s string) bool {
	return len(s) <= MaxUsernameLen && validComponent(s)
}

// ValidFilename reports whether s can be used as the filename of a key.
func ValidFilename(s string) bool {
	return len(s) <= MaxFilenameLen && validComponent(s)
}

func validComponent(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/\x00") && s != "." && s != ".."
}

// RequestObject is the object-store key of the payload.
func (k Key) RequestObject() string {
	return "request/" + k.String()
}

// ResultObject is the object-store key of the execution result.
func (k Key) ResultObject() string {
	return "result/" + k.String()
}

// LockKey is the cache key of the in-flight lock.
func (k Key) LockKey() string {
	return "rexe:lock:" + k.String()
}

// DedupToken combines the key and the enqueue time so repeated distinct
// submissions inside the queue's dedup window are not coalesced.
func (k Key) DedupToken(now time.Time) string {
	return k.String() + "-" + strconv.FormatInt(now.UnixMilli(), 10)
}

const (
	// TopicPrefix prefixes the per-language work topics.
	TopicPrefix = "rexe.submissions."
	// ResultTopic carries completion notices to the ingestor.
	ResultTopic = "rexe.results"
)

// WorkTopic returns the queue topic consumed by the workers of lang.
func WorkTopic(lang Language) string {
	return TopicPrefix + string(lang)
}

// WorkItem is the work descriptor placed on a language queue.
type WorkItem struct {
	SubmissionKey string `json:"submission_key"`
	Fingerprint   string `json:"fingerprint"`
	Username      string `json:"username"`
}

// CompletionNotice is published after a result object has been written.
type CompletionNotice struct {
	SubmissionKey string `json:"submission_key"`
	Fingerprint   string `json:"fingerprint"`
	Username      string `json:"username"`
	// QueuedFingerprint is set when the payload changed after the work item was
	// enqueued. The in-flight lock may still carry this older value.
	QueuedFingerprint string `json:"queued_fingerprint,omitempty"`
}

// Encode marshals the work item for the queue.
func (w WorkItem) Encode() ([]byte, error) {
	return json.Marshal(w)
}

// DecodeWorkItem parses and validates a work item.
func DecodeWorkItem(body []byte) (WorkItem, Key, error) {
	var item WorkItem
	if err := json.Unmarshal(body, &item); err != nil {
		return WorkItem{}, Key{}, fmt.Errorf("decode work item: %w", err)
	}
	key, err := ParseKey(item.SubmissionKey)
	if err != nil {
		return WorkItem{}, Key{}, err
	}
	if item.Fingerprint == "" {
		return WorkItem{}, Key{}, fmt.Errorf("work item %s has no fingerprint", item.SubmissionKey)
	}
	return item, key, nil
}

// Encode marshals the notice for the queue.
func (n CompletionNotice) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// DecodeCompletionNotice parses and validates a completion notice.
func DecodeCompletionNotice(body []byte) (CompletionNotice, Key, error) {
	var notice CompletionNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		return CompletionNotice{}, Key{}, fmt.Errorf("decode completion notice: %w", err)
	}
	key, err := ParseKey(notice.SubmissionKey)
	if err != nil {
		return CompletionNotice{}, Key{}, err
	}
	if notice.Fingerprint == "" {
		return CompletionNotice{}, Key{}, fmt.Errorf("completion notice %s has no fingerprint", notice.SubmissionKey)
	}
	return notice, key, nil
}
