// Package credentials stores the platform API key used as the bearer
// credential for chat requests.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/matchbot/pkg/dotdir"
)

const (
	credentialsFile = "credentials.toml"

	currentVersion = 0

	// DefaultPlatform is the platform hosting the chat function.
	DefaultPlatform = "supabase"
)

// platformEnvVars maps platform names to the environment variable that
// overrides the stored key.
var platformEnvVars = map[string]string{
	"supabase": "SUPABASE_ANON_KEY",
}

// Manager manages reading and writing credentials.toml in the .matchbot/
// directory.
type Manager struct {
	ddm        *dotdir.Manager
	targetPath string
}

// NewManager creates a new credentials Manager. If override is non-empty it
// is used as the .matchbot/ directory; otherwise the standard dotdir
// resolution applies.
func NewManager(override string) (*Manager, error) {
	mgr := &Manager{ddm: dotdir.NewManager()}

	target, err := mgr.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	mgr.targetPath = filepath.Join(target, credentialsFile)
	return mgr, nil
}

// Load reads credentials.toml from the target directory.
// Returns an empty Credentials if the file does not exist.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Credentials{
				Version:   currentVersion,
				Platforms: make(map[string]PlatformCredential),
			}, nil
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	creds := &Credentials{}
	if err := toml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	if creds.Version != currentVersion {
		return nil, fmt.Errorf("unsupported credentials version %d (expected %d)", creds.Version, currentVersion)
	}

	if creds.Platforms == nil {
		creds.Platforms = make(map[string]PlatformCredential)
	}

	return creds, nil
}

// Save writes credentials to credentials.toml with 0600 permissions.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil {
		return errors.New("cannot save nil credentials")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.WriteFile(m.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	return nil
}

// SetKey stores an API key for the given platform.
func (m *Manager) SetKey(platform, key string) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}

	creds.Platforms[platform] = PlatformCredential{APIKey: key}

	return m.Save(creds)
}

// GetKey returns the stored API key for the given platform.
// Returns an empty string if no key is stored.
func (m *Manager) GetKey(platform string) (string, error) {
	creds, err := m.Load()
	if err != nil {
		return "", err
	}

	return creds.Platforms[platform].APIKey, nil
}

// ResolveKey returns the key for platform from its environment variable,
// falling back to the stored credential.
func (m *Manager) ResolveKey(platform string) (string, error) {
	if env := EnvVarForPlatform(platform); env != "" {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}
	return m.GetKey(platform)
}

// RemoveKey deletes the stored credential for a platform.
func (m *Manager) RemoveKey(platform string) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}

	delete(creds.Platforms, platform)

	return m.Save(creds)
}

// ListPlatforms returns the names of platforms that have stored credentials.
func (m *Manager) ListPlatforms() ([]string, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}

	platforms := make([]string, 0, len(creds.Platforms))
	for name := range creds.Platforms {
		platforms = append(platforms, name)
	}

	sort.Strings(platforms)

	return platforms, nil
}

// GetTarget returns the resolved path to the credentials file.
func (m *Manager) GetTarget() string {
	return m.targetPath
}

// EnvVarForPlatform returns the environment variable name for a platform.
// Returns an empty string for unknown platforms.
func EnvVarForPlatform(platform string) string {
	return platformEnvVars[platform]
}

// SupportedPlatforms returns the platforms a key can be stored for.
func SupportedPlatforms() []string {
	return []string{DefaultPlatform}
}

// IsSupportedPlatform returns true if the given platform is supported.
func IsSupportedPlatform(platform string) bool {
	return slices.Contains(SupportedPlatforms(), platform)
}
