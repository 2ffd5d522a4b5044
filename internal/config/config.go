package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/fedragon/albumsync/internal/immich"
)

// ErrUnknownPeer means a sync_with entry references a peer that is not
// declared in the table.
var ErrUnknownPeer = errors.New("config: unknown peer")

// Peer is one entry of the peer table: a shared album plus the names of the
// peers it pulls missing assets from.
type Peer struct {
	SharedLink string   `mapstructure:"shared_link"`
	SyncWith   []string `mapstructure:"sync_with"`
}

// Config maps peer names to their entries. Viper lowercases TOML table
// keys, so lookups are case-insensitive; Peer and Lookup normalize for the
// caller.
type Config map[string]Peer

// Load reads the peer table from a TOML file and validates it: every
// sync_with entry must name a declared peer and every shared link must be
// parsable. Validation failures abort before any transfer happens.
func Load(path string) (Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("config: expanding %q: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(expanded)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Lookup resolves a peer by name, case-insensitively.
func (c Config) Lookup(name string) (Peer, bool) {
	peer, ok := c[strings.ToLower(name)]
	return peer, ok
}

func (c Config) validate() error {
	for name, peer := range c {
		if _, _, err := immich.ParseShareLink(peer.SharedLink); err != nil {
			return fmt.Errorf("config: peer %q: %w", name, err)
		}

		for _, other := range peer.SyncWith {
			if _, ok := c.Lookup(other); !ok {
				return fmt.Errorf("%w: %q in sync_with of %q", ErrUnknownPeer, other, name)
			}
		}
	}

	return nil
}
