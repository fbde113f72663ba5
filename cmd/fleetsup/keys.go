package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetsup/internal/crypto"
)

func createKeyCommand(global *GlobalFlags, f *KeyFlags) *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage ring and origin keys",
	}
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key into the key cache",
	}
	gen.PersistentFlags().StringVar(&f.CacheDir, "cache-dir", "", "key cache directory (default <fs_root>/cache/keys)")

	cacheDir := func() (string, error) {
		if f.CacheDir != "" {
			return f.CacheDir, nil
		}
		cfg, err := loadConfig(global.ConfigPath)
		if err != nil {
			return "", err
		}
		return cfg.KeyCacheDir(), nil
	}

	gen.AddCommand(&cobra.Command{
		Use:   "ring <name>",
		Short: "Generate a ring key sealing gossip traffic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cacheDir()
			if err != nil {
				return err
			}
			k, err := crypto.GenerateSymKey(args[0], dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Generated ring key %s in %s\n", k.NameWithRev(), dir)
			return err
		},
	})
	gen.AddCommand(&cobra.Command{
		Use:   "origin <name>",
		Short: "Generate an origin signing key pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cacheDir()
			if err != nil {
				return err
			}
			p, err := crypto.GenerateSigPair(args[0], dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Generated origin key pair %s in %s\n", p.NameWithRev(), dir)
			return err
		},
	})
	key.AddCommand(gen)
	return key
}
