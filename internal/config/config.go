// Package config loads the data directory's TOML configuration: API
// credentials plus the list of apps to sync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file inside the data directory.
const FileName = "config.toml"

// DefaultDirName is the data directory created next to the working
// directory (or under the home directory with --global).
const DefaultDirName = "asc-crashes"

// APIConfig holds the App Store Connect API key credentials.
type APIConfig struct {
	// IssuerID is the API key issuer (a UUID from the ASC portal).
	IssuerID string `toml:"issuer_id"`
	// KeyID is the 10-character key identifier.
	KeyID string `toml:"key_id"`
	// PrivateKey is either the ES256 private key PEM inline, or a path
	// to the .p8 file. Paths may start with ~ and may be relative to
	// the data directory.
	PrivateKey string `toml:"private_key"`
}

// App is one app to sync.
type App struct {
	BundleID string `toml:"bundle_id"`
	Name     string `toml:"name,omitempty"`
}

// Config is the parsed configuration file.
type Config struct {
	API  APIConfig `toml:"api"`
	Apps []App     `toml:"apps"`
}

// Template is written by the init command for the user to fill in.
const Template = `# App Store Connect sync configuration.

[api]
# Issuer ID from App Store Connect > Users and Access > Integrations.
issuer_id = ""
# Key ID of an API key with at least the Developer role.
key_id = ""
# The .p8 private key: either a path (absolute, ~-relative, or relative
# to this directory) or the PEM content inline.
private_key = "AuthKey.p8"

# One [[apps]] block per app to sync.
[[apps]]
bundle_id = "com.example.myapp"
name = "My App"
`

// Load reads and validates config.toml from the data directory.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no configuration at %s (run 'ascsync init' first)", path)
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if cfg.API.IssuerID == "" {
		return nil, fmt.Errorf("%s: api.issuer_id is not set", path)
	}
	if cfg.API.KeyID == "" {
		return nil, fmt.Errorf("%s: api.key_id is not set", path)
	}
	if cfg.API.PrivateKey == "" {
		return nil, fmt.Errorf("%s: api.private_key is not set", path)
	}
	if len(cfg.Apps) == 0 {
		return nil, fmt.Errorf("%s: no [[apps]] configured", path)
	}
	for i, app := range cfg.Apps {
		if app.BundleID == "" {
			return nil, fmt.Errorf("%s: apps[%d] has no bundle_id", path, i)
		}
	}
	return &cfg, nil
}

// PrivateKeyPEM resolves the configured private key to PEM bytes.
// Inline PEM content is returned as is; anything else is treated as a
// file path, with ~ expanded and relative paths anchored at the data
// directory.
func (c *Config) PrivateKeyPEM(dataDir string) ([]byte, error) {
	key := c.API.PrivateKey
	if strings.HasPrefix(strings.TrimSpace(key), "-----BEGIN") {
		return []byte(key), nil
	}

	path := key
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return pem, nil
}

// ResolveDataDir picks the data directory: the explicit flag value if
// given, else ./asc-crashes when it holds a config file, else
// ~/.asc-crashes.
func ResolveDataDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	local := DefaultDirName
	if _, err := os.Stat(filepath.Join(local, FileName)); err == nil {
		abs, err := filepath.Abs(local)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", local, err)
		}
		return abs, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, "."+DefaultDirName), nil
}

// Init creates a data directory with a template config file and the
// attachment subdirectories. It refuses to overwrite an existing config.
func Init(dataDir string) error {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, "logs"), filepath.Join(dataDir, "screenshots")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	path := filepath.Join(dataDir, FileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(Template), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// DatabasePath returns the SQLite file inside the data directory.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, "crashes.db")
}

// LogsDir returns the crash log attachment directory.
func LogsDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// ScreenshotsDir returns the screenshot attachment directory.
func ScreenshotsDir(dataDir string) string {
	return filepath.Join(dataDir, "screenshots")
}
