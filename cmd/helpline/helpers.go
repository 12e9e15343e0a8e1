package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	helpline "github.com/helpline-chat/helpline-go"
)

// envOverrides take precedence over the config file. A .env file in the
// working directory is honored when present.
type envOverrides struct {
	URL      string `env:"HELPLINE_URL"`
	Token    string `env:"HELPLINE_TOKEN"`
	LogLevel string `env:"HELPLINE_LOG_LEVEL"`
}

// resolveSettings merges the config file with environment overrides.
func resolveSettings() (url, token, logLevel string, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", "", "", err
	}
	url = cfg.Default.URL
	token = cfg.Default.Token
	logLevel = cfg.Default.LogLevel

	_ = godotenv.Load()
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return "", "", "", fmt.Errorf("cannot parse environment: %w", err)
	}
	if ov.URL != "" {
		url = ov.URL
	}
	if ov.Token != "" {
		token = ov.Token
	}
	if ov.LogLevel != "" {
		logLevel = ov.LogLevel
	}
	return url, token, logLevel, nil
}

// newLogger builds a console logger at the configured level.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).With().Timestamp().Logger()
}

// getEngine creates an engine from the resolved settings and waits for the
// connection to come up. Exits with a message when not configured.
func getEngine() *helpline.Engine {
	url, token, logLevel, err := resolveSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if url == "" || token == "" {
		fmt.Fprintln(os.Stderr, "No server configured. Run 'helpline init <url> <token>' first.")
		os.Exit(1)
	}

	eng := helpline.New(url, token, helpline.WithLogger(newLogger(logLevel)))
	eng.SetAuthenticated(true)

	deadline := time.Now().Add(15 * time.Second)
	for eng.State() != helpline.StateConnected {
		if time.Now().After(deadline) {
			eng.Close()
			if err := eng.LastError(); err != nil {
				fmt.Fprintf(os.Stderr, "Connection failed: %v\n", err)
			} else {
				fmt.Fprintln(os.Stderr, "Connection timed out.")
			}
			os.Exit(1)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return eng
}
