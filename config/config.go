package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet, testnet, or regtest.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Regtest NetworkType = "regtest"
)

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	Network NetworkType
	DataDir string

	Wallet WalletConfig
	Log    LogConfig
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Enabled bool
	Name    string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

// Params returns the consensus parameters for the configured network.
func (c *Config) Params() Params {
	switch c.Network {
	case Testnet:
		return TestnetParams()
	case Regtest:
		return RegtestParams()
	default:
		return MainnetParams()
	}
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.datos
//	macOS:   ~/Library/Application Support/Datos
//	Windows: %APPDATA%\Datos
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".datos"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Datos")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Datos")
		}
		return filepath.Join(home, "AppData", "Roaming", "Datos")
	default:
		return filepath.Join(home, ".datos")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// BlocksDir returns the blocks storage directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.ChainDataDir(), "blocks")
}

// UTXODir returns the UTXO database directory.
func (c *Config) UTXODir() string {
	return filepath.Join(c.ChainDataDir(), "utxo")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}
