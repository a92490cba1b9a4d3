package transport

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Session is the authenticated browser state a source needs, provisioned
// outside this program (exported cookies, a captured header set).
type Session struct {
	Referer   string            `yaml:"referer"`
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
	Cookies   map[string]string `yaml:"cookies"`
}

// LoadSession reads a YAML session file. ${VAR} references are expanded from
// the environment so that tokens can stay out of the file.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadSession: reading %s: %w", path, err)
	}

	var s Session
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
		return nil, fmt.Errorf("LoadSession: parsing %s: %w", path, err)
	}
	return &s, nil
}
