package steam

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credentials are the secrets of one bot account. They live in their own file
// referenced by the bot identity and are never persisted with it.
type Credentials struct {
	Password       string `yaml:"password"`
	APIKey         string `yaml:"api_key"`
	SharedSecret   string `yaml:"shared_secret"`
	IdentitySecret string `yaml:"identity_secret"`
}

// LoadCredentials reads a YAML credentials file. ${VAR} references are
// expanded from the environment.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("steam.LoadCredentials: read %q: %w", path, err)
	}

	var c Credentials
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &c); err != nil {
		return Credentials{}, fmt.Errorf("steam.LoadCredentials: parse %q: %w", path, err)
	}
	switch {
	case strings.TrimSpace(c.Password) == "":
		return Credentials{}, fmt.Errorf("steam.LoadCredentials: %q: password is required", path)
	case strings.TrimSpace(c.APIKey) == "":
		return Credentials{}, fmt.Errorf("steam.LoadCredentials: %q: api_key is required", path)
	}
	return c, nil
}
