// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sensorkit/sensorctl/internal/api"
	"github.com/sensorkit/sensorctl/internal/config"
	"github.com/sensorkit/sensorctl/internal/credstore"
	"github.com/sensorkit/sensorctl/internal/observability"
	"github.com/sensorkit/sensorctl/internal/resource"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "sensorctl",
	Short:   "sensorctl manages sensor appliances over their self-describing HTTP API.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return err
		}

		var cfg config.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			observability.InitializeLogger(config.NewDefaultConfig().Logger)
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		observability.InitializeLogger(cfg.Logger)
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command and maps failures onto process exit
// codes. A server-rejected operation has already been reported by the
// interpreter; everything else prints one fatal line. An interrupt
// cancels the context so a pending poll loop aborts cleanly.
func Execute() {
	defer observability.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, resource.ErrOperationFailed) {
			fmt.Fprintf(os.Stderr, "Fatal error: %s\n", err)
		}
		observability.Sync()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.sensorctl/config.yaml)")

	pf.String("device", "", "address of the device to contact")
	pf.String("socket", "", "local stream socket to contact the device through")
	pf.String("user", "", "username for authentication")
	pf.String("password", "", "password for authentication")
	pf.String("bearer-token", "", "bearer token to authenticate with instead of username/password")
	pf.String("passcode", "-", "two-factor passcode; '-' prompts interactively")
	pf.String("auth-base-url", "", "fleet controller authentication endpoint")
	pf.Bool("noblock", false, "never prompt interactively")
	pf.String("ssl-ca-cert", "", "CA certificate file, directory, or 'system' (default pins the device root CA)")
	pf.Bool("ssl-no-verify-hostname", false, "do not verify the certificate hostname")
	pf.Bool("ssl-no-verify-certificate", false, "do not verify the certificate at all")
	pf.Bool("json", false, "print raw JSON response bodies")
	pf.Bool("nowait", false, "do not wait for asynchronous operations to finish")
	pf.IntP("debug", "d", 0, "wire trace level: 1 operations, 2 including discovery")

	bindings := map[string]string{
		"device.address":            "device",
		"device.socket":             "socket",
		"auth.user":                 "user",
		"auth.password":             "password",
		"auth.bearer_token":         "bearer-token",
		"auth.passcode":             "passcode",
		"auth.auth_base_url":        "auth-base-url",
		"auth.noblock":              "noblock",
		"tls.ca_cert":               "ssl-ca-cert",
		"tls.no_verify_hostname":    "ssl-no-verify-hostname",
		"tls.no_verify_certificate": "ssl-no-verify-certificate",
		"output.json":               "json",
		"output.nowait":             "nowait",
		"output.debug":              "debug",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig reads in the config file and environment variables.
func initializeConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.DefaultPath(""))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SENSORCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// engine bundles the assembled session with its configuration and
// credential store for one invocation.
type engine struct {
	cfg   *config.Config
	creds *api.Credentials
	sess  *api.Session
	store *credstore.Store
}

// newEngine builds the session from the merged configuration, pulling
// cached credentials for the device when none were given.
func newEngine() (*engine, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds := &api.Credentials{
		User:        cfg.Auth.User,
		Password:    cfg.Auth.Password,
		BearerToken: cfg.Auth.BearerToken,
		Passcode:    cfg.Auth.Passcode,
		AuthBaseURL: cfg.Auth.AuthBaseURL,
		NoBlock:     cfg.Auth.NoBlock,
	}

	store := &credstore.Store{Path: cfg.Auth.CredentialsFile}
	if creds.User == "" && creds.Password == "" && creds.BearerToken == "" {
		creds.User, creds.Password, creds.BearerToken = store.Load(cfg.DeviceID())
	}

	prompter := api.NewTerminalPrompter()

	// A fleet login cannot proceed without a username and password.
	if creds.AuthBaseURL != "" && creds.BearerToken == "" {
		if err := api.PromptCredentials(creds, prompter); err != nil {
			return nil, err
		}
	}

	sess, err := api.NewSession(api.SessionConfig{
		Credentials: creds,
		TLS: api.TLSOptions{
			CACert:              cfg.TLS.CACert,
			NoVerifyHostname:    cfg.TLS.NoVerifyHostname,
			NoVerifyCertificate: cfg.TLS.NoVerifyCertificate,
		},
		SocketPath: cfg.Device.Socket,
		Tracer:     api.NewTracer(cfg.Output.Debug, os.Stderr),
		Logger:     observability.GetLogger(),
		Prompter:   prompter,
		Notices:    os.Stderr,
		UserAgent:  "sensorctl v" + Version,
	})
	if err != nil {
		return nil, err
	}

	return &engine{cfg: &cfg, creds: creds, sess: sess, store: store}, nil
}

// saveCredentials persists whatever the auth handshake obtained, unless
// the server or the user opted out of password caching.
func (e *engine) saveCredentials() {
	if e.creds.BearerToken == "" && (e.creds.User == "" || e.creds.Password == "") {
		return
	}
	includePassword := !e.cfg.Auth.NoPasswordSave && !e.creds.NoPasswordSave
	if err := e.store.Save(e.cfg.DeviceID(), e.creds, includePassword); err != nil {
		observability.GetLogger().Warn("cannot save credentials", zap.Error(err))
	}
}
