package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"zigbee-quirks/internal/coordinator"
	"zigbee-quirks/internal/quirks"
	"zigbee-quirks/internal/store"
	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/web"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	MQTT struct {
		Broker         string `yaml:"broker"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		ClientID       string `yaml:"client_id"`
		TopicPrefix    string `yaml:"topic_prefix"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"mqtt"`
	HomeAssistant struct {
		Enabled         bool   `yaml:"enabled"`
		ClientID        string `yaml:"client_id"`
		TopicPrefix     string `yaml:"topic_prefix"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
	} `yaml:"homeassistant"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Scripts struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"scripts"`
	QuirksDir         string `yaml:"quirks_dir"`
	SideEffectTimeout string `yaml:"side_effect_timeout"`
}

func (c *Config) validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.HomeAssistant.Enabled && c.HomeAssistant.TopicPrefix == c.MQTT.TopicPrefix {
		return fmt.Errorf("homeassistant.topic_prefix must differ from mqtt.topic_prefix (%q)", c.MQTT.TopicPrefix)
	}
	if c.HomeAssistant.Enabled && c.HomeAssistant.ClientID == c.MQTT.ClientID {
		return fmt.Errorf("homeassistant.client_id must differ from mqtt.client_id (%q)", c.MQTT.ClientID)
	}
	for name, v := range map[string]string{
		"mqtt.request_timeout": c.MQTT.RequestTimeout,
		"scripts.timeout":      c.Scripts.Timeout,
		"side_effect_timeout":  c.SideEffectTimeout,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("zigbee-quirks starting", "version", version)

	registry := zcl.NewRegistry(logger)
	clusters.RegisterStandard(registry)

	// Lua transforms for user quirk files (nil compiler with no_automation).
	auto, compile := initAutomation(cfg, logger)
	defer auto.Stop()

	quirkRegistry := quirks.NewRegistry(logger)
	if err := quirks.RegisterBuiltin(quirkRegistry, registry); err != nil {
		logger.Error("register builtin quirks", "err", err)
		os.Exit(1)
	}
	if err := quirks.LoadDir(cfg.QuirksDir, quirkRegistry, registry, compile, logger); err != nil {
		logger.Error("load quirk files", "dir", cfg.QuirksDir, "err", err)
		os.Exit(1)
	}
	logger.Info("ZCL registry initialized", "clusters", len(registry.All()), "quirks", quirkRegistry.Len())

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	tr, err := transport.NewMQTT(transport.MQTTConfig{
		Broker:         cfg.MQTT.Broker,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ClientID:       cfg.MQTT.ClientID,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		RequestTimeout: duration(cfg.MQTT.RequestTimeout),
	}, logger)
	if err != nil {
		logger.Error("connect gateway", "err", err)
		os.Exit(1)
	}
	defer tr.Close()

	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(tr, db, registry, quirkRegistry, events, coordinator.Config{
		SideEffectTimeout: duration(cfg.SideEffectTimeout),
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := coord.Start(ctx); err != nil {
		logger.Error("start coordinator", "err", err)
		cancel()
		tr.Close()
		os.Exit(1)
	}
	cancel()

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webServer := web.NewServer(coord, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Home Assistant bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(coord, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	coord.Stop()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zigbee-gateway"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "zigbee-quirks"
	}
	if cfg.HomeAssistant.TopicPrefix == "" {
		cfg.HomeAssistant.TopicPrefix = "zigbee-quirks"
	}
	if cfg.HomeAssistant.DiscoveryPrefix == "" {
		cfg.HomeAssistant.DiscoveryPrefix = "homeassistant"
	}
	if cfg.HomeAssistant.ClientID == "" {
		cfg.HomeAssistant.ClientID = "zigbee-quirks-bridge"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zigbee-quirks.db"
	}
	if cfg.QuirksDir == "" {
		cfg.QuirksDir = "quirks"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// duration parses a validated duration; empty means zero.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
