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

	"github.com/alecthomas/kingpin/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskdesk/taskdesk/internal"
	"github.com/taskdesk/taskdesk/internal/bot"
	"github.com/taskdesk/taskdesk/internal/config"
	"github.com/taskdesk/taskdesk/internal/conversation"
	"github.com/taskdesk/taskdesk/internal/eventbus"
	"github.com/taskdesk/taskdesk/internal/notification"
	"github.com/taskdesk/taskdesk/internal/pushsubscription"
	pushsubrepo "github.com/taskdesk/taskdesk/internal/pushsubscription/repositoryimpl"
	"github.com/taskdesk/taskdesk/internal/task"
	taskrepo "github.com/taskdesk/taskdesk/internal/task/repositoryimpl"
	"github.com/taskdesk/taskdesk/internal/user"
	userrepo "github.com/taskdesk/taskdesk/internal/user/repositoryimpl"
	"github.com/taskdesk/taskdesk/pkg/clog"
	"github.com/taskdesk/taskdesk/pkg/storage"
)

var (
	app = kingpin.New("taskdesk", "Delegated task coordination with chat and REST surfaces")

	serveCmd = app.Command("serve", "Start the API server, chat bot and notification dispatcher")

	migrateCmd      = app.Command("migrate-users", "Provision login credentials for users that have none")
	migratePassword = migrateCmd.Flag("default-password", "Password assigned to migrated users").Default("changeme").String()

	announceCmd  = app.Command("announce", "Send a text to every user with a linked chat")
	announceText = announceCmd.Arg("text", "Announcement text").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}
	setupLogger(env)

	store, err := setupStorage(env)
	if err != nil {
		slog.Error("failed to set up storage", "error", err)
		os.Exit(1)
	}

	switch command {
	case serveCmd.FullCommand():
		runServe(env, store)
	case migrateCmd.FullCommand():
		runMigrateUsers(env, store, *migratePassword)
	case announceCmd.FullCommand():
		runAnnounce(env, store, *announceText)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func setupStorage(env *config.Env) (storage.Storage, error) {
	switch env.StorageEnv.Type {
	case "s3":
		return storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
	default:
		return storage.NewLocalStorage(env.StorageEnv.BaseDir)
	}
}

func runServe(env *config.Env, store storage.Storage) {
	bus := eventbus.New()

	userRepo := userrepo.NewJSONRepository(store)
	taskRepo := taskrepo.NewJSONRepository(store)
	pushSubRepo := pushsubrepo.NewJSONRepository(store)

	userService := user.NewService(userRepo, bus)
	taskEngine := task.NewEngine(taskRepo, bus)

	vapidEnv := config.VAPIDEnvFromEnv(env)
	userServer := user.NewServer(userService, userRepo)
	taskServer := task.NewServer(taskEngine)
	pushServer := pushsubscription.NewServer(vapidEnv, pushSubRepo)

	srv := internal.NewServer(env, userServer, taskServer, pushServer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// The chat transport is optional; without a token the REST surface and
	// broadcast channels still run.
	var notifier notification.Notifier = notification.NopNotifier{}
	if env.TelegramEnv.BotToken != "" {
		tg, err := bot.New(env.TelegramEnv.BotToken, userRepo)
		if err != nil {
			slog.Error("failed to start telegram bot", "error", err)
			os.Exit(1)
		}
		notifier = tg

		sessions := conversation.NewManager()
		convEngine := conversation.NewEngine(sessions, userRepo, userService, taskEngine, tg)
		go tg.Run(ctx, convEngine)
	} else {
		slog.Warn("telegram bot token not configured, chat surface disabled")
	}

	dispatcher := notification.NewDispatcher(bus, notifier,
		notification.NewTeamsBroadcaster(env.TeamsEnv.WebhookURL),
		notification.NewWebPushBroadcaster(vapidEnv, pushSubRepo),
	)
	go dispatcher.Start(ctx)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// runMigrateUsers backfills login credentials for users created through the
// chat flow. Usernames derive from the telegram handle when present, the
// display name otherwise; everyone gets the default password and a forced
// change on first login.
func runMigrateUsers(env *config.Env, store storage.Storage, defaultPassword string) {
	ctx := context.Background()
	userRepo := userrepo.NewJSONRepository(store)

	hash, err := bcrypt.GenerateFromPassword([]byte(defaultPassword), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash default password", "error", err)
		os.Exit(1)
	}

	migrated := 0
	err = userRepo.Mutate(ctx, func(users []*user.User) ([]*user.User, error) {
		taken := map[string]bool{}
		for _, u := range users {
			if u.Username != "" {
				taken[u.Username] = true
			}
		}
		for _, u := range users {
			if u.Username != "" {
				continue
			}
			username := deriveUsername(u)
			for i := 2; taken[username]; i++ {
				username = fmt.Sprintf("%s%d", deriveUsername(u), i)
			}
			taken[username] = true
			u.Username = username
			u.PasswordHash = string(hash)
			u.MustChangePassword = true
			migrated++
			fmt.Printf("migrated %s -> %s\n", u.Name, username)
		}
		return users, nil
	})
	if err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("done, %d user(s) migrated\n", migrated)
}

func deriveUsername(u *user.User) string {
	source := strings.TrimPrefix(u.TelegramUsername, "@")
	if source == "" {
		source = u.Name
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(source), " ", "."))
}

func runAnnounce(env *config.Env, store storage.Storage, text string) {
	if env.TelegramEnv.BotToken == "" {
		slog.Error("telegram bot token not configured")
		os.Exit(1)
	}
	userRepo := userrepo.NewJSONRepository(store)
	tg, err := bot.New(env.TelegramEnv.BotToken, userRepo)
	if err != nil {
		slog.Error("failed to connect to telegram", "error", err)
		os.Exit(1)
	}
	if err := tg.Announce(context.Background(), text); err != nil {
		slog.Error("announce failed", "error", err)
		os.Exit(1)
	}
}
