package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrEthical07/sessionkit"
)

const envPrefix = "SESSIONKIT"

// app carries what every subcommand shares. Values resolve flag first, then
// SESSIONKIT_* environment (including the dotenv file), then the flag default.
type app struct {
	v      *viper.Viper
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "sessionkit",
		Short:         "Session and credential lifecycle manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML configuration file; defaults apply when empty")
	pf.String("env-file", ".env", "dotenv file loaded before settings resolve; a missing file is ignored")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "console", "log format: console or json")

	root.AddCommand(
		newServeCmd(a),
		newHashSecretCmd(a),
		newValidateCmd(a),
		newLoadtestCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString("log-level"), a.v.GetString("log-format"))
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log-level: %w", err)
	}
	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("log-format: unknown format %q", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// loadConfig reads --config over the defaults. The signing key is taken from
// SESSIONKIT_SIGNING_KEY when set, never from a flag.
func (a *app) loadConfig() (sessionkit.Config, error) {
	cfg := sessionkit.DefaultConfig()
	if path := a.v.GetString("config"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return sessionkit.Config{}, err
		}
		defer f.Close()
		if cfg, err = sessionkit.LoadConfigYAML(f); err != nil {
			return sessionkit.Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	if raw := a.v.GetString("signing-key"); raw != "" {
		key, err := decodeSecret(raw)
		if err != nil {
			return sessionkit.Config{}, fmt.Errorf("%s_SIGNING_KEY: %w", envPrefix, err)
		}
		cfg.Session.SigningKey = key
	}
	if err := cfg.Validate(); err != nil {
		return sessionkit.Config{}, err
	}
	return cfg, nil
}

// decodeSecret accepts plain text or "base64:<data>".
func decodeSecret(v string) ([]byte, error) {
	if data, ok := strings.CutPrefix(strings.TrimSpace(v), "base64:"); ok {
		return base64.StdEncoding.DecodeString(data)
	}
	return []byte(v), nil
}
