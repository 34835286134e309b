package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"peerlend/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress          string        `toml:"ListenAddress"`
	DataDir                string        `toml:"DataDir"`
	StorageBackend         string        `toml:"StorageBackend"`
	GovernanceKeystorePath string        `toml:"GovernanceKeystorePath"`
	KeystorePassphraseEnv  string        `toml:"KeystorePassphraseEnv"`
	KeystoreKDF            string        `toml:"KeystoreKDF"`
	Governance             string        `toml:"Governance"`
	FeeReceiver            string        `toml:"FeeReceiver"`
	Custody                string        `toml:"Custody"`
	FeeBps                 uint64        `toml:"FeeBps"`
	PausedModules          []string      `toml:"PausedModules"`
	AllowMigrate           bool          `toml:"AllowMigrate"`
	Tokens                 []TokenConfig `toml:"Tokens"`
}

// Load loads the configuration from the given path, creating a default file
// and governance keystore on first use.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown field %s", path, undecoded[0])
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./peerlend-data"
	}
	if strings.TrimSpace(cfg.StorageBackend) == "" {
		cfg.StorageBackend = "leveldb"
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	if cfg.Tokens == nil {
		cfg.Tokens = []TokenConfig{}
	}
}

// Passphrase returns the governance keystore passphrase from the configured
// environment variable, or the empty passphrase when none is configured.
func (c *Config) Passphrase() string {
	if name := strings.TrimSpace(c.KeystorePassphraseEnv); name != "" {
		return os.Getenv(name)
	}
	return ""
}

func (c *Config) keystoreStrength() crypto.KeystoreStrength {
	if strings.EqualFold(strings.TrimSpace(c.KeystoreKDF), "light") {
		return crypto.KeystoreLight
	}
	return crypto.KeystoreStandard
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.GovernanceKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, cfg.Passphrase(), cfg.keystoreStrength()); err != nil {
			return err
		}
		if strings.TrimSpace(cfg.Governance) == "" {
			cfg.Governance = crypto.FormatAddress(key.PubKey().Address())
		}
		cfg.GovernanceKeystorePath = keystorePath
		return persist(configPath, cfg)
	} else if err != nil {
		return err
	}

	if cfg.GovernanceKeystorePath != keystorePath {
		cfg.GovernanceKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, "", crypto.KeystoreStandard); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:          ":8545",
		DataDir:                "./peerlend-data",
		StorageBackend:         "leveldb",
		GovernanceKeystorePath: keystorePath,
		Governance:             crypto.FormatAddress(key.PubKey().Address()),
		Custody:                crypto.FormatAddress(DefaultCustody()),
		FeeBps:                 100,
		PausedModules:          []string{},
		Tokens:                 []TokenConfig{},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultCustody is the custody account used when the config leaves Custody
// empty. Nobody holds a key for it.
func DefaultCustody() [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte("peerlend/custody"))[12:])
	return out
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "governance.keystore")
}
