package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NicolasHaas/gotalk/pkg/datastore"
	"github.com/NicolasHaas/gotalk/pkg/logging"
	"github.com/NicolasHaas/gotalk/pkg/server"
	"github.com/NicolasHaas/gotalk/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.ChatAddr, "chat", cfg.ChatAddr, "TCP chat bind address")
	flag.StringVar(&cfg.FileAddr, "files", cfg.FileAddr, "TCP file transfer bind address")
	flag.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "HTTP bind address for /metrics, /healthz and /events (empty to disable)")
	flag.StringVar(&cfg.StorageDir, "storage", cfg.StorageDir, "Directory holding uploaded files")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite file index path (empty for in-memory)")
	flag.Int64Var(&cfg.MaxFileSize, "max-file-size", cfg.MaxFileSize, "Maximum upload size in bytes (0 = unlimited)")
	flag.IntVar(&cfg.MaxClients, "max-clients", cfg.MaxClients, "Maximum concurrent chat connections")
	flag.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Time allowed to send a username or file request")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Disconnect silent chat clients after this long (0 = never)")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for publishing chat events (empty to disable)")
	flag.StringVar(&cfg.RedisChannel, "redis-channel", cfg.RedisChannel, "Redis pub/sub channel for chat events")

	configFile := flag.String("config", "", "YAML config file (flags given explicitly take precedence)")
	printConfig := flag.Bool("print-config", false, "Print the effective config as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	logLevel := flag.String("log-level", "", "Log level: "+logging.LevelNames()+" (default info, env GOTALK_LOG_LEVEL)")
	logFormat := flag.String("log-format", "", "Log format: text or json (env GOTALK_LOG_FORMAT)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("gotalk-server"))
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.FromEnv("GOTALK", logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	})); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if *configFile != "" {
		if err := loadConfig(*configFile, &cfg); err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
	}

	if *printConfig {
		data, err := cfg.YAML()
		if err != nil {
			slog.Error("render config", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	deps := server.Dependencies{}
	if cfg.DBPath != "" {
		st, err := datastore.New(cfg.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		deps.Index = st
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			slog.Error("connect redis", "addr", cfg.RedisAddr, "err", err)
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
		deps.Redis = rdb
	}

	slog.Info("starting", "version", version.Full())
	srv, err := server.New(cfg, deps)
	if err != nil {
		slog.Error("server setup", "err", err)
		os.Exit(1)
	}
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads the YAML file over cfg, then re-applies the flags the
// operator set explicitly so they override file values.
func loadConfig(path string, cfg *server.Config) error {
	explicit := map[string]string{}
	flag.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if err := server.LoadConfigFile(path, cfg); err != nil {
		return err
	}
	for name, value := range explicit {
		if err := flag.Set(name, value); err != nil {
			return fmt.Errorf("re-apply -%s: %w", name, err)
		}
	}
	return cfg.Validate()
}
