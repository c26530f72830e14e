package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	SSHPort     int
	HTTPPort    int
	MetricsPort int

	TunnelDomain  string
	AuthzEndpoint string

	LDAPAddress      string
	LDAPBase         string
	LDAPSearchFilter string
	LDAPBindDN       string
	LDAPPasswordFile string

	PrivateKeyFile string
	ReleaseVersion string
}

// Load reads the configuration from the environment. It returns an error
// for any missing required setting or unparseable port so the process can
// refuse to start instead of limping along half-configured.
func Load() (*Config, error) {
	cfg := &Config{
		TunnelDomain:     os.Getenv("TUNNEL_DOMAIN"),
		AuthzEndpoint:    os.Getenv("AUTHZ_ENDPOINT"),
		LDAPAddress:      os.Getenv("LDAP_ADDRESS"),
		LDAPBase:         os.Getenv("LDAP_BASE"),
		LDAPSearchFilter: os.Getenv("LDAP_SEARCH_FILTER"),
		LDAPBindDN:       os.Getenv("LDAP_BIND_DN"),
		LDAPPasswordFile: os.Getenv("LDAP_PASSWORD_FILE"),
		PrivateKeyFile:   os.Getenv("PRIVATE_KEY_FILE"),
		ReleaseVersion:   getEnv("RELEASE_VERSION", "dev"),
	}

	var err error
	if cfg.SSHPort, err = getEnvInt("SSH_PORT", 2222); err != nil {
		return nil, err
	}
	if cfg.HTTPPort, err = getEnvInt("HTTP_PORT", 3000); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = getEnvInt("METRICS_PORT", 4000); err != nil {
		return nil, err
	}

	required := []struct {
		name  string
		value string
	}{
		{"TUNNEL_DOMAIN", cfg.TunnelDomain},
		{"AUTHZ_ENDPOINT", cfg.AuthzEndpoint},
		{"LDAP_ADDRESS", cfg.LDAPAddress},
		{"LDAP_BASE", cfg.LDAPBase},
		{"LDAP_SEARCH_FILTER", cfg.LDAPSearchFilter},
		{"LDAP_BIND_DN", cfg.LDAPBindDN},
		{"LDAP_PASSWORD_FILE", cfg.LDAPPasswordFile},
		{"PRIVATE_KEY_FILE", cfg.PrivateKeyFile},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("missing required environment variable %s", r.name)
		}
	}

	if !strings.Contains(cfg.LDAPSearchFilter, "{username}") {
		return nil, fmt.Errorf("LDAP_SEARCH_FILTER must contain the {username} placeholder")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q", key, value)
	}
	if i < 1 || i > 65535 {
		return 0, fmt.Errorf("port %s out of range: %d", key, i)
	}
	return i, nil
}
