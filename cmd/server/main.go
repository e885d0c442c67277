package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"sigchat/config"
	conversationrepo "sigchat/internal/repository/conversation"
	devicerepo "sigchat/internal/repository/device"
	messagerepo "sigchat/internal/repository/message"
	"sigchat/internal/repository/sequence"
	userrepo "sigchat/internal/repository/user"
	"sigchat/internal/service/challenge"
	redissvc "sigchat/internal/service/redis"
	"sigchat/internal/service/resolver"
	"sigchat/internal/service/server"
	"sigchat/internal/service/token"
	"sigchat/pkg/log"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sigchat-server",
	Short: "Chat server that verifies every message signature before fanout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	godotenv.Load()
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Init(cfg.Server.LogLevel, false)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := initMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		return err
	}
	db := mongoClient.Database(cfg.Mongo.Database)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisService := redissvc.NewRedis(rdb)
	if err := redisService.Ping(ctx); err != nil {
		return err
	}

	seq := sequence.New(db)
	users := userrepo.NewUserRepo(db, seq)
	devices := devicerepo.NewDeviceRepo(db)
	conversations := conversationrepo.NewConversationRepo(db, seq)
	messages := messagerepo.NewMessageRepo(db, seq)

	for _, ensure := range []func(context.Context) error{
		users.EnsureIndexes,
		devices.EnsureIndexes,
		messages.EnsureIndexes,
	} {
		if err := ensure(ctx); err != nil {
			return err
		}
	}

	srv := server.NewHttpServer(cfg, server.Deps{
		Users:         users,
		Devices:       devices,
		Conversations: conversations,
		Messages:      messages,
		Keys:          resolver.ForScope(cfg.Auth.KeyScope, users, devices),
		Challenges:    challenge.NewRedisStore(redisService),
		Tokens:        token.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
	})

	go func() {
		if err := srv.Run(); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Info("shutting down")
	return mongoClient.Disconnect(context.Background())
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
