package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Credentials are the OAuth 1.0a consumer and access token pairs.
type Credentials struct {
	ConsumerKey       string `env:"TWITTER_CONSUMER_KEY" yaml:"consumer_key"`
	ConsumerSecret    string `env:"TWITTER_CONSUMER_SECRET" yaml:"consumer_secret"`
	AccessToken       string `env:"TWITTER_ACCESS_TOKEN" yaml:"access_token"`
	AccessTokenSecret string `env:"TWITTER_ACCESS_TOKEN_SECRET" yaml:"access_token_secret"`
}

// LoadCredentials decodes credentials from the environment, then overlays any
// non-empty values from the YAML file at path. path may be empty. All four
// values must end up set.
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials
	if err := envdecode.Decode(&creds); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Credentials{}, fmt.Errorf("decode credentials from environment: %w", err)
	}

	if path != "" {
		fromFile, err := loadCredentialsFile(path)
		if err != nil {
			return Credentials{}, err
		}
		creds = creds.merge(fromFile)
	}

	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

func loadCredentialsFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials file: %w", err)
	}
	return creds, nil
}

func (c Credentials) merge(override Credentials) Credentials {
	if override.ConsumerKey != "" {
		c.ConsumerKey = override.ConsumerKey
	}
	if override.ConsumerSecret != "" {
		c.ConsumerSecret = override.ConsumerSecret
	}
	if override.AccessToken != "" {
		c.AccessToken = override.AccessToken
	}
	if override.AccessTokenSecret != "" {
		c.AccessTokenSecret = override.AccessTokenSecret
	}
	return c
}

// Validate reports every missing credential at once.
func (c Credentials) Validate() error {
	var missing []string
	if c.ConsumerKey == "" {
		missing = append(missing, "consumer_key")
	}
	if c.ConsumerSecret == "" {
		missing = append(missing, "consumer_secret")
	}
	if c.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if c.AccessTokenSecret == "" {
		missing = append(missing, "access_token_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}
