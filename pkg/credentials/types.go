package credentials

// Credentials represents the stored API credentials in credentials.toml.
type Credentials struct {
	Version   int                           `toml:"version"`
	Platforms map[string]PlatformCredential `toml:"platforms"`
}

// PlatformCredential holds the key sent as the bearer credential to one
// backend platform.
type PlatformCredential struct {
	APIKey string `toml:"api_key"`
}
