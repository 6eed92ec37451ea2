package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/NicolasHaas/gotalk/pkg/client"
	"github.com/NicolasHaas/gotalk/pkg/logging"
	"github.com/NicolasHaas/gotalk/pkg/relay"
	"github.com/NicolasHaas/gotalk/pkg/version"
)

func main() {
	settingsFile := flag.String("settings", client.SettingsPath(), "Client settings YAML file")
	chatAddr := flag.String("chat", "", "Server chat address (overrides settings)")
	fileAddr := flag.String("files", "", "Server file address (overrides settings)")
	username := flag.String("user", "", "Username (overrides settings)")
	save := flag.Bool("save", false, "Save the effective settings and continue")
	showVersion := flag.Bool("version", false, "Print version and exit")
	logLevel := flag.String("log-level", "", "Log level: "+logging.LevelNames()+" (default warn, env GOTALK_LOG_LEVEL)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("gotalk-client"))
		return
	}

	// Logs go to stderr so they never mix with chat lines.
	opts := logging.FromEnv("GOTALK", logging.Options{Level: *logLevel, Output: os.Stderr})
	if opts.Level == "" {
		opts.Level = "warn"
	}
	if err := logging.Setup(opts); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	settings := client.LoadSettings(*settingsFile)
	if *chatAddr != "" {
		settings.ChatAddr = *chatAddr
	}
	if *fileAddr != "" {
		settings.FileAddr = *fileAddr
	}
	if *username != "" {
		settings.Username = *username
	}

	stdin := bufio.NewScanner(os.Stdin)
	if settings.Username == "" {
		fmt.Print("Enter your username: ")
		if !stdin.Scan() {
			return
		}
		settings.Username = strings.TrimSpace(stdin.Text())
	}
	if *save {
		if err := settings.Save(*settingsFile); err != nil {
			slog.Error("save settings", "path", *settingsFile, "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	chat, err := client.Dial(dialCtx, settings.ChatAddr, settings.Username)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = chat.Close() }()

	go func() {
		for line := range chat.Lines() {
			fmt.Println(line)
		}
		fmt.Println("Disconnected from server.")
		stop()
	}()

	input := make(chan string)
	go func() {
		defer close(input)
		for stdin.Scan() {
			input <- stdin.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-input:
			if !ok {
				return
			}
			if err := handleInput(ctx, chat, settings, line); err != nil {
				fmt.Fprintln(os.Stderr, err)
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// handleInput runs /file and /download locally against the file port and
// sends everything else to the chat.
func handleInput(ctx context.Context, chat *client.ChatClient, s *client.Settings, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/file":
		if arg == "" {
			return fmt.Errorf("usage: /file <path>")
		}
		return upload(ctx, s.FileAddr, arg)
	case "/download":
		if arg == "" {
			return fmt.Errorf("usage: /download <name>")
		}
		return download(ctx, s.FileAddr, s.DownloadDir, arg)
	}
	return chat.Send(line)
}

func upload(ctx context.Context, addr, path string) error {
	f, err := os.Open(path) //nolint:gosec // path typed by the user
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(path)
	n, err := client.Upload(ctx, addr, name, f)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	fmt.Printf("Uploaded %s (%d bytes).\n", name, n)
	return nil
}

func download(ctx context.Context, addr, dir, name string) error {
	if err := relay.ValidateName(name); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	dest := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := client.Download(ctx, addr, name, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if n == 0 {
		fmt.Printf("%s: not found or empty, nothing saved.\n", name)
		return nil
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	fmt.Printf("Downloaded %s (%d bytes) to %s.\n", name, n, dest)
	return nil
}
