package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// TenantConfig is the connection description of one tenant's vector database.
type TenantConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// Tenants maps a tenant name to its database.
type Tenants map[string]TenantConfig

type tenantsFile struct {
	Tenants Tenants `yaml:"tenants"`
}

// LoadTenants reads a YAML tenants file. ${VAR} references are expanded from
// the environment so passwords can stay out of the file.
func LoadTenants(path string) (Tenants, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}
	return ParseTenants([]byte(os.ExpandEnv(string(raw))))
}

func ParseTenants(data []byte) (Tenants, error) {
	var f tenantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file: %w", err)
	}
	if len(f.Tenants) == 0 {
		return nil, fmt.Errorf("%w: tenants file declares no tenants", ErrMissingRequired)
	}

	for name, t := range f.Tenants {
		if t.Host == "" || t.User == "" || t.Database == "" {
			return nil, fmt.Errorf("%w: tenant %q needs host, user and database", ErrMissingRequired, name)
		}
		if t.Port == 0 {
			t.Port = 5432
		}
		if t.SSLMode == "" {
			t.SSLMode = "disable"
		}
		f.Tenants[name] = t
	}
	return f.Tenants, nil
}

// Names returns the tenant names in sorted order.
func (t Tenants) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DSN renders a lib/pq connection URL.
func (t TenantConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(t.User, t.Password),
		Host:     net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Path:     "/" + t.Database,
		RawQuery: url.Values{"sslmode": []string{t.SSLMode}}.Encode(),
	}
	return u.String()
}
