// Package config provides configuration management for the NFT syncer.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nft-syncer/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chains    ChainsConfig
	RPC       RPCConfig
	Providers ProvidersConfig
	Workers   WorkersConfig
	Logging   LoggingConfig
}

// ServerConfig holds ops server configuration
type ServerConfig struct {
	Port string
	Host string
	// WriteRPS limits refresh and transfer requests per client
	WriteRPS int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres    PostgresConfig
	Redis       RedisConfig
	MigrationDB string // DATABASE_URL used by golang-migrate
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds chain configuration
type ChainsConfig struct {
	Enabled []string
	Chains  map[string]ChainConfig
}

// ChainConfig holds configuration for a specific chain
type ChainConfig struct {
	ID             types.ChainID
	RPCURLs        []string // default class
	PublicRPCURLs  []string // public class
	EventRPCURLs   []string // event class, used by the poller
	EventWhitelist []string // lowercased contract addresses; empty means no whitelist
	PollInterval   time.Duration
	PollingBatch   int
}

// RPCConfig holds the retry wrapper settings
type RPCConfig struct {
	MaxRetries     int
	SwapStep       int
	AttemptTimeout time.Duration
}

// ProvidersConfig holds third-party NFT API settings
type ProvidersConfig struct {
	MoralisAPIKey  string
	AlchemyAPIKey  string
	NFTScanAPIKey  string
	IPFSGateway    string
	RequestsPerSec float64
	HTTPTimeout    time.Duration
}

// WorkersConfig holds background worker sizes
type WorkersConfig struct {
	SyncQueueWorkers int
	TraitWorkers     int
	TraitQueueSize   int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:     getEnv("SERVER_PORT", "8080"),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			WriteRPS: getEnvAsInt("SERVER_WRITE_RPS", 5),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "nft_syncer"),
				User:           getEnv("POSTGRES_USER", "syncer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
			MigrationDB: getEnv("DATABASE_URL", ""),
		},
		RPC: RPCConfig{
			MaxRetries:     getEnvAsInt("RPC_MAX_RETRIES", 5),
			SwapStep:       getEnvAsInt("RPC_SWAP_STEP", 2),
			AttemptTimeout: getEnvAsDuration("RPC_ATTEMPT_TIMEOUT", 10*time.Second),
		},
		Providers: ProvidersConfig{
			MoralisAPIKey:  getEnv("MORALIS_API_KEY", ""),
			AlchemyAPIKey:  getEnv("ALCHEMY_API_KEY", ""),
			NFTScanAPIKey:  getEnv("NFTSCAN_API_KEY", ""),
			IPFSGateway:    getEnv("IPFS_GATEWAY", "https://ipfs.io/ipfs/"),
			RequestsPerSec: getEnvAsFloat("PROVIDER_RPS", 10),
			HTTPTimeout:    getEnvAsDuration("PROVIDER_HTTP_TIMEOUT", 15*time.Second),
		},
		Workers: WorkersConfig{
			SyncQueueWorkers: getEnvAsInt("SYNC_QUEUE_WORKERS", 8),
			TraitWorkers:     getEnvAsInt("TRAIT_WORKERS", 2),
			TraitQueueSize:   getEnvAsInt("TRAIT_QUEUE_SIZE", 1024),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	chains, err := loadChainConfigs()
	if err != nil {
		return nil, err
	}
	config.Chains = chains

	return config, nil
}

// loadChainConfigs loads chain-specific configurations
func loadChainConfigs() (ChainsConfig, error) {
	enabled := getEnvAsList("ENABLED_CHAINS", []string{"ethereum", "polygon", "arbitrum", "optimism", "base"})

	chains := make(map[string]ChainConfig, len(enabled))
	names := make([]string, 0, len(enabled))
	for _, name := range enabled {
		name = strings.ToLower(name)
		info, ok := types.LookupChainByName(name)
		if !ok {
			return ChainsConfig{}, fmt.Errorf("unknown chain in ENABLED_CHAINS: %s", name)
		}

		prefix := strings.ToUpper(name)
		whitelist := getEnvAsList(prefix+"_EVENT_WHITELIST", nil)
		for i := range whitelist {
			whitelist[i] = types.NormalizeAddress(whitelist[i])
		}

		chains[name] = ChainConfig{
			ID:             info.ID,
			RPCURLs:        getEnvAsList(prefix+"_RPC_URLS", nil),
			PublicRPCURLs:  getEnvAsList(prefix+"_RPC_PUBLIC_URLS", nil),
			EventRPCURLs:   getEnvAsList(prefix+"_RPC_EVENT_URLS", nil),
			EventWhitelist: whitelist,
			PollInterval:   getEnvAsDuration(prefix+"_POLL_INTERVAL", 6*time.Second),
			PollingBatch:   getEnvAsInt(prefix+"_POLLING_BATCH", 20),
		}
		names = append(names, name)
	}

	return ChainsConfig{Enabled: names, Chains: chains}, nil
}

// PostgresDSN builds the pgx connection string
func (c PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&pool_max_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Database, c.MaxConnections)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated variable, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
