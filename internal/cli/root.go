// Package cli implements the secops command line tool.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tphakala/go-secops"
	"github.com/tphakala/go-secops/fwdcache"
)

var (
	cfgFile string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "secops",
	Short: "Google Security Operations command line client",
	Long: `secops talks to the Google Security Operations (Chronicle) API.

Credentials are read from SECOPS_ACCESS_TOKEN. Other settings come from
flags, SECOPS_* environment variables, a .env file or $HOME/.secops.yaml.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if used := viper.ConfigFileUsed(); used != "" {
			slog.Debug("using config file", "path", used)
		}
	},
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.secops.yaml)")
	pf.BoolVar(&isDebug, "debug", false, "enable debug logging")
	pf.String("project", "", "Google Cloud project ID")
	pf.String("customer", "", "SecOps customer ID")
	pf.String("region", "us", "SecOps region")
	pf.Duration("timeout", 60*time.Second, "HTTP request timeout")

	_ = viper.BindPFlag("project", pf.Lookup("project"))
	_ = viper.BindPFlag("customer", pf.Lookup("customer"))
	_ = viper.BindPFlag("region", pf.Lookup("region"))
	_ = viper.BindPFlag("timeout", pf.Lookup("timeout"))
}

func initConfig() {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".secops")
	}

	viper.SetEnvPrefix("SECOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range []string{"access_token", "base_url", "cache.redis_url", "cache.redis_password"} {
		_ = viper.BindEnv(key)
	}

	viper.SetDefault("forwarder", secops.DefaultForwarderName)
	viper.SetDefault("cache.ttl", fwdcache.DefaultTTL)
	viper.SetDefault("cache.prefix", "secops:forwarder:")

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Error reading config file:", err)
	}
}

// Config is the resolved tool configuration.
type Config struct {
	Project     string               `mapstructure:"project"`
	Customer    string               `mapstructure:"customer"`
	Region      string               `mapstructure:"region"`
	BaseURL     string               `mapstructure:"base_url"`
	AccessToken string               `mapstructure:"access_token"`
	Forwarder   string               `mapstructure:"forwarder"`
	Timeout     time.Duration        `mapstructure:"timeout"`
	Cache       fwdcache.RedisConfig `mapstructure:"cache"`
}

// LoadConfig returns the configuration merged from flags, environment and
// config file.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setupLogging() {
	level := slog.LevelInfo
	if isDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))
}

// newClient builds an API client from the configuration. The returned
// function releases the forwarder cache connection, if any.
func newClient(ctx context.Context) (*secops.Client, func(), error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := []secops.ClientOption{
		secops.WithInstance(cfg.Project, cfg.Customer, cfg.Region),
		secops.WithAccessToken(cfg.AccessToken),
		secops.WithTimeout(cfg.Timeout),
		secops.WithForwarderName(cfg.Forwarder),
		secops.WithLogger(slog.Default()),
		secops.WithUserAgent("secops-cli/" + version()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, secops.WithBaseURL(cfg.BaseURL))
	}

	release := func() {}
	if cfg.Cache.URL != "" {
		cache, err := fwdcache.NewRedis(ctx, cfg.Cache)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, secops.WithForwarderCache(cache))
		release = func() { _ = cache.Close() }
	}

	client, err := secops.NewClient(opts...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return client, release, nil
}
