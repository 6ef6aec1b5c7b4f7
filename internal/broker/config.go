package broker

import "time"

// Config configures the Broker Adapter. Absent Alpaca credentials put the
// adapter into mock mode — explicitly, never as a silent partial fallback.
type Config struct {
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaPaper     bool

	// PolygonAPIKey, if set, is consulted as a price-only fallback when
	// the primary Alpaca quote call fails for any reason, including an
	// open circuit.
	PolygonAPIKey string

	CacheRedisURL string
	CacheTTL      time.Duration
	CacheEnabled  bool

	// PollInterval/PollAttempts bound Execute's fill-polling budget (C7
	// owns the loop; this package just answers GetOrderStatus quickly).
	PollInterval time.Duration
	PollAttempts int
}

// DefaultConfig mirrors the teacher's market-data cache defaults.
func DefaultConfig() Config {
	return Config{
		AlpacaPaper:   true,
		CacheRedisURL: "localhost:6379",
		CacheTTL:      5 * time.Second,
		CacheEnabled:  true,
		PollInterval:  250 * time.Millisecond,
		PollAttempts:  10,
	}
}

// MockMode reports whether the adapter must run without live broker
// credentials.
func (c Config) MockMode() bool {
	return c.AlpacaAPIKey == "" || c.AlpacaAPISecret == ""
}
