package commands

import (
	"os"
	"path/filepath"
	"steamcommunity/internal/history"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "confirmd.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		identity_secret: "dGhpcyBpcyBhIHNlY3JldCBrZXk=",
		cookies: ["steamLoginSecure=76561197960287930%7C%7Ctoken"],
		poll_interval: "15s",
		history: {file: "history.db"},
	}`), 0600))

	t.Setenv("CONFIRMD_AUTO_ACCEPT", "true")
	t.Setenv("CONFIRMD_COOKIES", "")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.True(t, config.AutoAccept)
	require.Equal(t, []string{"steamLoginSecure=76561197960287930%7C%7Ctoken"}, config.Cookies)
	require.Equal(t, history.Config{File: "history.db"}, config.History)

	interval, err := config.Interval()
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, interval)

	secret, err := config.Secret()
	require.NoError(t, err)
	require.Equal(t, []byte("this is a secret key"), secret)
}

func TestLoadConfigFromEnvOnly(t *testing.T) {
	t.Setenv("CONFIRMD_IDENTITY_SECRET", "74686973206973206120736563726574206b6579")
	t.Setenv("CONFIRMD_COOKIES", "sessionid=abc,steamLoginSecure=76561197960287930%7C%7Ctoken")
	t.Setenv("CONFIRMD_STEAM_ID", "76561197960287930")

	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json5"))
	require.NoError(t, err)
	require.Len(t, config.Cookies, 2)

	secret, err := config.Secret()
	require.NoError(t, err)
	require.Equal(t, []byte("this is a secret key"), secret)

	steamID, err := config.ParsedSteamID()
	require.NoError(t, err)
	require.Equal(t, uint64(76561197960287930), steamID)

	interval, err := config.Interval()
	require.NoError(t, err)
	require.Equal(t, defaultPollInterval, interval)
}

func TestConfigValidation(t *testing.T) {
	_, err := Config{PollInterval: "soon"}.Interval()
	require.Error(t, err)

	_, err = Config{PollInterval: "-1s"}.Interval()
	require.Error(t, err)

	secret, err := Config{}.Secret()
	require.NoError(t, err)
	require.Nil(t, secret)

	_, err = Config{SteamID: "abc"}.ParsedSteamID()
	require.Error(t, err)

	retention, err := Config{HistoryRetention: "720h"}.Retention()
	require.NoError(t, err)
	require.Equal(t, 30*24*time.Hour, retention)

	retention, err = Config{}.Retention()
	require.NoError(t, err)
	require.Zero(t, retention)
}
