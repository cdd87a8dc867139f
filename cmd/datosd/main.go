// Datos node daemon.
//
// Usage:
//
//	datosd [--network=mainnet|testnet|regtest] [--datadir=DIR]
//	datosd --create-wallet=NAME    Create an encrypted wallet, print the
//	                               recovery phrase, and exit
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/datosdrive/datos/config"
	"github.com/datosdrive/datos/internal/chain"
	"github.com/datosdrive/datos/internal/log"
	"github.com/datosdrive/datos/internal/mempool"
	"github.com/datosdrive/datos/internal/storage"
	"github.com/datosdrive/datos/internal/token"
	"github.com/datosdrive/datos/internal/utxo"
	"github.com/datosdrive/datos/internal/wallet"
	"golang.org/x/term"
)

func main() {
	var (
		network      = flag.String("network", string(config.Mainnet), "network: mainnet, testnet or regtest")
		dataDir      = flag.String("datadir", config.DefaultDataDir(), "data directory")
		logLevel     = flag.String("loglevel", "info", "log level: debug, info, warn, error")
		logJSON      = flag.Bool("logjson", false, "log JSON instead of console output")
		walletName   = flag.String("wallet", "", "wallet to load at startup")
		createWallet = flag.String("create-wallet", "", "create a wallet with this name and exit")
	)
	flag.Parse()

	cfg := config.Default(config.NetworkType(*network))
	cfg.DataDir = *dataDir
	cfg.Log.Level = *logLevel
	cfg.Log.JSON = *logJSON
	if *walletName != "" {
		cfg.Wallet.Enabled = true
		cfg.Wallet.Name = *walletName
	}

	if err := run(cfg, *createWallet); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, createWallet string) error {
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	if createWallet != "" {
		return createWalletFile(cfg, createWallet)
	}

	blocksDB, err := storage.NewBadger(cfg.BlocksDir())
	if err != nil {
		return fmt.Errorf("open blocks db: %w", err)
	}
	defer blocksDB.Close()
	utxoDB, err := storage.NewBadger(cfg.UTXODir())
	if err != nil {
		return fmt.Errorf("open utxo db: %w", err)
	}
	defer utxoDB.Close()

	params := cfg.Params()
	utxos := utxo.NewStore(utxoDB)
	c, err := chain.New(params, blocksDB, utxos)
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}
	claims, err := token.NewClaimSet(blocksDB)
	if err != nil {
		return fmt.Errorf("load token claims: %w", err)
	}
	validator := token.NewValidator(params, claims, c)
	c.SetTokenValidator(validator)

	view := utxo.SetView{Set: utxos}
	pool := mempool.New(view, validator, c.Height, 0)

	w := wallet.New(c, pool, view)
	if cfg.Wallet.Enabled {
		if err := loadWallet(cfg, w, utxos); err != nil {
			return err
		}
	}

	log.Logger.Info().
		Str("network", string(cfg.Network)).
		Uint64("height", c.Height()).
		Int("token_claims", claims.Len()).
		Msg("node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	return nil
}

// createWalletFile generates a mnemonic, seals the derived seed under a
// passphrase, and prints the recovery phrase once.
func createWalletFile(cfg *config.Config, name string) error {
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		return err
	}
	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return err
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return err
	}
	password, err := promptPassphrase(true)
	if err != nil {
		return err
	}
	if err := ks.Create(name, seed, password, wallet.DefaultKDFParams()); err != nil {
		return err
	}
	fmt.Printf("Wallet %q created.\n\nRecovery phrase (write it down, it is shown only once):\n\n  %s\n\n", name, mnemonic)
	return nil
}

func loadWallet(cfg *config.Config, w *wallet.Wallet, utxos *utxo.Store) error {
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		return err
	}
	password, err := promptPassphrase(false)
	if err != nil {
		return err
	}
	seed, err := ks.Load(cfg.Wallet.Name, password)
	if err != nil {
		return fmt.Errorf("load wallet %q: %w", cfg.Wallet.Name, err)
	}
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		return err
	}
	// Import the first external key; further addresses are derived on
	// demand through the keystore's index counters.
	first, err := master.DeriveAddressKey(0, wallet.ChangeExternal, 0)
	if err != nil {
		return err
	}
	key, err := first.Signer()
	if err != nil {
		return err
	}
	addr := w.ImportKey(key)
	if err := w.Refresh(utxos); err != nil {
		return fmt.Errorf("scan wallet outputs: %w", err)
	}
	log.Wallet.Info().Str("address", addr.String()).Msg("wallet loaded")
	return nil
}

func promptPassphrase(confirm bool) ([]byte, error) {
	fmt.Print("Wallet passphrase: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if confirm {
		fmt.Print("Confirm passphrase: ")
		again, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		if string(password) != string(again) {
			return nil, fmt.Errorf("passphrases do not match")
		}
	}
	return password, nil
}
