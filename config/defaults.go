package config

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	return &Config{
		Network: network,
		DataDir: DefaultDataDir(),
		Wallet: WalletConfig{
			Enabled: false,
			Name:    "default",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
