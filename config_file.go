package sessionkit

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// keyMaterial carries the fields of SessionConfig that are not plain YAML
// scalars. Keys are given either as text or as "base64:<data>".
type keyMaterial struct {
	Session struct {
		SigningKey string `yaml:"signing_key"`
		PublicKey  string `yaml:"public_key"`
	} `yaml:"session"`
}

// LoadConfigYAML overlays the YAML document read from r on DefaultConfig and
// validates the result. Durations use Go syntax ("90s", "10m").
func LoadConfigYAML(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	var keys keyMaterial
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Session.SigningKey, err = decodeKey(keys.Session.SigningKey); err != nil {
		return Config{}, fmt.Errorf("session.signing_key: %w", err)
	}
	if cfg.Session.PublicKey, err = decodeKey(keys.Session.PublicKey); err != nil {
		return Config{}, fmt.Errorf("session.public_key: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeKey(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if data, ok := strings.CutPrefix(v, "base64:"); ok {
		return base64.StdEncoding.DecodeString(data)
	}
	return []byte(v), nil
}
