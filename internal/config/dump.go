package config

import (
	"net/url"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// YAML renders the effective configuration with connection credentials
// masked.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	out.Store.DatabaseURL = redactURL(c.Store.DatabaseURL)
	out.Redis.URL = redactURL(c.Redis.URL)

	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, eris.Wrap(err, "config: marshal yaml")
	}
	return data, nil
}

// redactURL masks the password of a URL-shaped DSN. Plain file paths are
// returned unchanged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
