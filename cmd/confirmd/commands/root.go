package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"steamcommunity/cmd/confirmd/globals"
	"steamcommunity/internal/community"
	"steamcommunity/internal/components/chrono"
	"steamcommunity/internal/components/telemetry"
	"steamcommunity/internal/confirmations"
	"steamcommunity/internal/totp"
	"steamcommunity/lib/restyutil"
	libtelemetry "steamcommunity/lib/telemetry"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	dumpHttp   string
)

var rootCmd = &cobra.Command{
	Use:   "confirmd",
	Short: "confirmd lists, accepts and watches mobile confirmations of a Steam account.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		libtelemetry.InitSlog(verbose)

		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		value, err := newGlobals(cmd.Context(), config)
		if err != nil {
			return err
		}
		cmd.SetContext(globals.Set(cmd.Context(), value))
		loadedConfig = config
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return globals.Get(cmd.Context()).Shutdown(ctx)
	},
}

// loadedConfig is the config the root command read, for subcommands.
var loadedConfig Config

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "confirmd.json5", "The config file to read, confirmd.local.json5 next to it overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages.")
	rootCmd.PersistentFlags().StringVar(&dumpHttp, "dump-http", "", "Write every http exchange into this directory.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newGlobals(ctx context.Context, config Config) (*globals.Value, error) {
	otel, err := libtelemetry.SetupFromEnv(ctx, "confirmd")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to setup telemetry", "err", err)
	}

	tel := telemetry.NewSlogAPI(nil)
	expired := make(chan error, 1)

	secret, err := config.Secret()
	if err != nil {
		return nil, err
	}

	communityClient, err := community.NewClient(community.ClientOptions{
		BaseUrl:           config.BaseUrl,
		UserAgent:         config.UserAgent,
		RequestsPerSecond: config.RequestsPerSecond,
		Proxy:             config.Proxy,
		Tel:               tel,
		Session: community.SessionObserverFunc(func(err error) {
			select {
			case expired <- err:
			default:
			}
		}),
	})
	if err != nil {
		return nil, err
	}
	err = communityClient.SetCookies(config.Cookies)
	if err != nil {
		return nil, err
	}
	steamID, err := config.ParsedSteamID()
	if err != nil {
		return nil, err
	}
	if steamID != 0 {
		communityClient.SetSteamID(steamID)
	}

	timeClient := resty.New()
	if dumpHttp != "" {
		output, err := restyutil.NewFilesystemOutput(dumpHttp)
		if err != nil {
			return nil, err
		}
		restyutil.InstrumentClient(communityClient.Http, nil, output)
		restyutil.InstrumentClient(timeClient, nil, output)
	} else {
		restyutil.InstrumentClient(communityClient.Http, nil, nil)
	}

	clock := chrono.NewStandardTime()
	offsets := totp.NewOffsetSource(timeClient, config.QueryTimeUrl, clock, tel)

	return &globals.Value{
		Tel:           tel,
		Community:     communityClient,
		Offsets:       offsets,
		Confirmations: confirmations.NewClient(communityClient, offsets, clock, tel),
		Secret:        secret,
		Expired:       expired,
		Shutdown:      otel.Shutdown,
	}, nil
}

var errNoSecret = errors.New("an identity secret is required, set identity_secret or CONFIRMD_IDENTITY_SECRET")

// keyring derives every key a one-shot command needs for a single moment.
type keyring struct {
	secret []byte
	time   int64
}

func newKeyring(ctx context.Context, value *globals.Value) (keyring, error) {
	if value.Secret == nil {
		return keyring{}, errNoSecret
	}
	offset, err := value.Offsets.Offset(ctx)
	if err != nil {
		return keyring{}, fmt.Errorf("query steam time: %w", err)
	}
	return keyring{
		secret: value.Secret,
		time:   totp.Unix(time.Now(), offset),
	}, nil
}

func (k keyring) key(tag string) string {
	return totp.ConfirmationKey(k.secret, k.time, tag)
}
