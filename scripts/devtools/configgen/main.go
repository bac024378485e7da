package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Profile renders one config file per service from a base file plus overrides.
type Profile struct {
	OutputDir string                    `yaml:"outputDir"`
	Shared    SharedProfile             `yaml:"shared"`
	Services  map[string]ServiceProfile `yaml:"services"`
}

// SharedProfile carries settings every service of a deployment agrees on.
// Each value lands only in configs whose base already has the owning section.
type SharedProfile struct {
	RedisAddr     string   `yaml:"redisAddr"`
	MySQLDSN      string   `yaml:"mysqlDSN"`
	KafkaBrokers  []string `yaml:"kafkaBrokers"`
	MinIOEndpoint string   `yaml:"minioEndpoint"`
	JWTSecret     string   `yaml:"jwtSecret"`
	CookieSecret  string   `yaml:"cookieSecret"`
}

type ServiceProfile struct {
	Base      string                 `yaml:"base"`
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/dev-profile.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	if err := generate(*profilePath, *outputDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func generate(profilePath, outputDir string) error {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return fmt.Errorf("load profile failed: %w", err)
	}
	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return errors.New("output directory is required")
	}
	profileDir := filepath.Dir(profilePathAbs)
	if !filepath.IsAbs(profile.OutputDir) {
		profile.OutputDir = filepath.Join(profileDir, profile.OutputDir)
	}
	if err := os.MkdirAll(profile.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory failed: %w", err)
	}

	serviceNames := make([]string, 0, len(profile.Services))
	for name := range profile.Services {
		serviceNames = append(serviceNames, name)
	}
	sort.Strings(serviceNames)

	for _, name := range serviceNames {
		service := profile.Services[name]
		if service.Base == "" {
			return fmt.Errorf("service %q missing base config", name)
		}
		if !filepath.IsAbs(service.Base) {
			service.Base = filepath.Join(profileDir, service.Base)
		}
		baseConfig, err := loadYAML(service.Base)
		if err != nil {
			return fmt.Errorf("load base config for %q failed: %w", name, err)
		}
		baseConfig = normalizeValue(baseConfig)

		baseConfig, err = applyShared(profile.Shared, baseConfig)
		if err != nil {
			return fmt.Errorf("apply shared settings for %q failed: %w", name, err)
		}
		if len(service.Overrides) > 0 {
			override := normalizeValue(service.Overrides)
			baseConfig, err = mergeMap(baseConfig, override)
			if err != nil {
				return fmt.Errorf("merge overrides for %q failed: %w", name, err)
			}
		}

		outputPath, err := resolveOutputPath(profile.OutputDir, service)
		if err != nil {
			return fmt.Errorf("resolve output path for %q failed: %w", name, err)
		}
		if err := writeYAML(outputPath, baseConfig); err != nil {
			return fmt.Errorf("write config for %q failed: %w", name, err)
		}
	}
	return nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if len(profile.Services) == 0 {
		return nil, errors.New("profile has no services")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}

	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write yaml failed: %w", err)
	}
	return nil
}

func resolveOutputPath(outputDir string, service ServiceProfile) (string, error) {
	output := service.Output
	if output == "" {
		output = filepath.Base(service.Base)
	}
	if output == "" {
		return "", errors.New("output path is empty")
	}
	if filepath.IsAbs(output) {
		return output, nil
	}
	return filepath.Join(outputDir, output), nil
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprintf("%v", k)
			}
			out[key] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

func mergeMap(base interface{}, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}

	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}

	for key, overrideValue := range overrideMap {
		baseValue, exists := merged[key]
		if !exists {
			merged[key] = overrideValue
			continue
		}

		baseChild, baseIsMap := baseValue.(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = overrideValue
	}
	return merged, nil
}

func applyShared(shared SharedProfile, config interface{}) (interface{}, error) {
	root, ok := config.(map[string]interface{})
	if !ok {
		return nil, errors.New("service config is not a map")
	}
	setInSection(root, shared.RedisAddr, "redis", "addr")
	setInSection(root, shared.MySQLDSN, "mysql", "dsn")
	setInSection(root, shared.MinIOEndpoint, "minio", "endpoint")
	setInSection(root, shared.CookieSecret, "submission", "cookieSecret")
	if auth, ok := root["auth"].(map[string]interface{}); ok {
		setInSection(auth, shared.JWTSecret, "jwt", "secret")
	}
	if len(shared.KafkaBrokers) > 0 {
		if kafka, ok := root["kafka"].(map[string]interface{}); ok {
			brokers := make([]interface{}, 0, len(shared.KafkaBrokers))
			for _, b := range shared.KafkaBrokers {
				brokers = append(brokers, b)
			}
			kafka["brokers"] = brokers
		}
	}
	return root, nil
}

func setInSection(root map[string]interface{}, value, section, key string) {
	if value == "" {
		return
	}
	if child, ok := root[section].(map[string]interface{}); ok {
		child[key] = value
	}
}
