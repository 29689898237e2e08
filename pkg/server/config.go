package server

import "time"

// Config holds server configuration settings
type Config struct {
	Host    string // Server host address
	Port    int    // Server port
	DataDir string // Query engine working directory (a previously sealed index)

	DefaultTopK         int  // Fallback top-K when a query omits it
	MaxTopK             int  // Upper bound enforced on client-supplied top-K
	DefaultWantFulltext bool // Fallback wantFulltext when a query omits it

	ReadTimeout    time.Duration // HTTP read timeout
	WriteTimeout   time.Duration // HTTP write timeout
	IdleTimeout    time.Duration // HTTP idle timeout
	MaxRequestSize int64         // Maximum request body size in bytes
	EnableCORS     bool          // Enable CORS middleware
	AllowedOrigins []string      // CORS allowed origins
	EnableLogging  bool          // Enable request logging

	// TLS/SSL configuration
	EnableTLS   bool   // Enable TLS/SSL
	TLSCertFile string // Path to TLS certificate file
	TLSKeyFile  string // Path to TLS private key file

	// GraphQL configuration
	EnableGraphQL bool // Enable GraphQL API endpoint
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:                "localhost",
		Port:                8080,
		DataDir:             "./data",
		DefaultTopK:         10,
		MaxTopK:             1000,
		DefaultWantFulltext: false,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		IdleTimeout:         120 * time.Second,
		MaxRequestSize:      1 * 1024 * 1024, // 1MB: a query body is a short token list
		EnableCORS:          true,
		AllowedOrigins:      []string{"*"},
		EnableLogging:       true,
		EnableTLS:           false,
		TLSCertFile:         "",
		TLSKeyFile:          "",
		EnableGraphQL:       true,
	}
}
