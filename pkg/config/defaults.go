package config

const (
	defaultFunction = "matchbot-chat"
	defaultTimeout  = "5m"
	defaultReadSize = 4096

	defaultRelayListen = ":8787"

	// Supabase CLI's local API gateway.
	localPlatformURL = "http://localhost:54321"

	EventsProviderNone  = "none"
	EventsProviderKafka = "kafka"

	defaultBrokers = "localhost:9092"
	defaultTopic   = "matchbot.exchanges"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values. chat.url has no
// default: a chat without one fails with a configuration error.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Chat: ChatConfig{
			Function: defaultFunction,
			Timeout:  defaultTimeout,
			ReadSize: defaultReadSize,
		},
		Relay: RelayConfig{
			Listen: defaultRelayListen,
		},
		Events: EventsConfig{
			Provider: EventsProviderNone,
			Brokers:  defaultBrokers,
			Topic:    defaultTopic,
		},
	}
}
