package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/securechat-sdk-go/securechat"
	"github.com/vovakirdan/securechat-sdk-go/securechat/storage"
)

var rootCmd = &cobra.Command{
	Use:               "securechat",
	Short:             "Command-line client for SecureChat",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if app != nil {
			_ = app.Close()
		}
	},
}

var (
	flagAPIURL   string
	flagWSURL    string
	flagStorage  string
	flagDataPath string
	flagEnvFile  string
	flagLogLevel string
)

// app is the SDK client shared by all subcommands.
var app *securechat.Client

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAPIURL, "api-url", "", "server base URL (env SECURECHAT_API_URL)")
	flags.StringVar(&flagWSURL, "ws-url", "", "WebSocket base URL; derived from --api-url when empty (env SECURECHAT_WS_URL)")
	flags.StringVar(&flagStorage, "storage", "", "credential storage: memory, pebble or sqlite (env SECURECHAT_STORAGE)")
	flags.StringVar(&flagDataPath, "data-path", "", "pebble directory or sqlite file (env SECURECHAT_DATA_PATH)")
	flags.StringVar(&flagEnvFile, "env-file", ".env", "optional dotenv file read before the environment")
	flags.StringVar(&flagLogLevel, "log-level", "warn", "log level: debug, info, warn, error")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd, themeCmd)
	rootCmd.AddCommand(roomsCmd, roomCmd, dmCmd, searchCmd)
	rootCmd.AddCommand(chatCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute securechat command")
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg, err := securechat.LoadFromEnv(flagEnvFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagAPIURL != "" {
		cfg.APIBaseURL = flagAPIURL
	}
	if flagWSURL != "" {
		cfg.WSBaseURL = flagWSURL
	}
	if flagStorage != "" {
		cfg.StorageDriver = flagStorage
	}
	if flagDataPath != "" {
		cfg.StoragePath = flagDataPath
	}
	if cfg.StorageDriver == storage.DriverMemory {
		// Tokens must survive between invocations.
		cfg.StorageDriver = storage.DriverPebble
		if cfg.StoragePath == "" {
			cfg.StoragePath = defaultDataPath()
		}
	}

	app, err = securechat.NewClient(cfg)
	if err != nil {
		return err
	}
	app.SetLogger(securechat.NewZerologLogger(log.Logger))
	app.OnAuthFailure(func() {
		log.Warn().Msg("session expired, run `securechat login` again")
	})
	log.Debug().Str("api", cfg.APIBaseURL).Str("storage", cfg.StorageDriver).Msg("client ready")
	return nil
}

func defaultDataPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".securechat"
	}
	return filepath.Join(dir, "securechat")
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// requestContext bounds one REST round trip.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), app.Config().RequestTimeout)
}

// restore resumes the stored session or tells the user to log in.
func restore(ctx context.Context) (securechat.User, error) {
	u, err := app.Session().Restore(ctx)
	if err != nil {
		if securechat.IsAuthError(err) {
			return securechat.User{}, fmt.Errorf("not logged in, run `securechat login`: %w", err)
		}
		return securechat.User{}, err
	}
	return u, nil
}
