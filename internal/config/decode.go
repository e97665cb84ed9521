package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// DecodeConfig holds configuration for the offline decode command.
type DecodeConfig struct {
	LogLevel    string
	UpstreamURL string
	Tx          string
	To          string
	Input       string
	Interfaces  string
	TokenMeta   bool
	Out         string
}

// LoadDecode merges .env, config file, environment variables and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags, nil)
	if err != nil {
		return DecodeConfig{}, err
	}
	v.SetDefault("log-level", "info")

	return DecodeConfig{
		LogLevel:    v.GetString("log-level"),
		UpstreamURL: strings.TrimSpace(v.GetString("upstream-url")),
		Tx:          strings.TrimSpace(v.GetString("tx")),
		To:          strings.TrimSpace(v.GetString("to")),
		Input:       strings.TrimSpace(v.GetString("input")),
		Interfaces:  v.GetString("interfaces"),
		TokenMeta:   v.GetBool("token-meta"),
		Out:         v.GetString("out"),
	}, nil
}

// Validate requires either a transaction hash with an upstream, or call data
// with a recipient.
func (c DecodeConfig) Validate() error {
	switch {
	case c.Tx != "":
		if c.UpstreamURL == "" {
			return fmt.Errorf("upstream url is required to look up a transaction")
		}
	case c.Input != "":
		if c.To == "" {
			return fmt.Errorf("recipient address is required with call data")
		}
	default:
		return fmt.Errorf("either a transaction hash or call data is required")
	}
	if c.TokenMeta && c.UpstreamURL == "" {
		return fmt.Errorf("upstream url is required for token metadata")
	}
	return nil
}
