package main

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s failed: %v", path, err)
	}
}

func TestGenerateAppliesSharedThenOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "gateway.yaml"), `
redis:
  addr: "127.0.0.1:6379"
auth:
  jwt:
    secret: base
submission:
  cookieSecret: base
`)
	writeFile(t, filepath.Join(dir, "worker.yaml"), `
kafka:
  brokers: ["127.0.0.1:9092"]
worker:
  language: py
`)
	writeFile(t, filepath.Join(dir, "profile.yaml"), `
outputDir: out
shared:
  redisAddr: "redis:6379"
  kafkaBrokers: ["kafka:9092"]
  jwtSecret: shared-jwt
  cookieSecret: shared-cookie
services:
  gateway:
    base: gateway.yaml
  worker-cpp:
    base: worker.yaml
    output: worker-cpp.yaml
    overrides:
      worker:
        language: cpp
`)
	if err := generate(filepath.Join(dir, "profile.yaml"), ""); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	var gateway map[string]interface{}
	readYAML(t, filepath.Join(dir, "out", "gateway.yaml"), &gateway)
	if got := gateway["redis"].(map[string]interface{})["addr"]; got != "redis:6379" {
		t.Fatalf("unexpected redis addr %v", got)
	}
	jwt := gateway["auth"].(map[string]interface{})["jwt"].(map[string]interface{})
	if jwt["secret"] != "shared-jwt" {
		t.Fatalf("unexpected jwt secret %v", jwt["secret"])
	}
	if _, ok := gateway["kafka"]; ok {
		t.Fatalf("kafka section must not be created")
	}

	var worker map[string]interface{}
	readYAML(t, filepath.Join(dir, "out", "worker-cpp.yaml"), &worker)
	if got := worker["worker"].(map[string]interface{})["language"]; got != "cpp" {
		t.Fatalf("unexpected language %v", got)
	}
	brokers := worker["kafka"].(map[string]interface{})["brokers"].([]interface{})
	if len(brokers) != 1 || brokers[0] != "kafka:9092" {
		t.Fatalf("unexpected brokers %v", brokers)
	}
	if _, ok := worker["redis"]; ok {
		t.Fatalf("redis section must not be created")
	}
}

func TestGenerateRequiresBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "profile.yaml"), "outputDir: out\nservices:\n  gateway:\n    output: g.yaml\n")
	if err := generate(filepath.Join(dir, "profile.yaml"), ""); err == nil {
		t.Fatalf("expected missing base error")
	}
}

func readYAML(t *testing.T, path string, out interface{}) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s failed: %v", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		t.Fatalf("parse %s failed: %v", path, err)
	}
}
