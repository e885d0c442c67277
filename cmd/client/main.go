package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"sigchat/internal/service/app"
)

func main() {
	var cfg app.Config
	flag.StringVar(&cfg.ServerAddr, "server", "localhost:9090", "host:port of the chat server")
	flag.BoolVar(&cfg.UseTLS, "tls", false, "connect over https/wss")
	flag.StringVar(&cfg.Username, "user", "", "account username")
	flag.StringVar(&cfg.Password, "pass", "", "account password")
	flag.Int64Var(&cfg.ConversationID, "conv", 0, "conversation id to join")
	flag.BoolVar(&cfg.DeviceScope, "device", false, "enroll and sign as a per-device key")
	flag.StringVar(&cfg.KeyDir, "keydir", "", "directory for key material (default ~/.sigchat)")
	flag.Parse()

	if cfg.Username == "" || cfg.Password == "" || cfg.ConversationID == 0 {
		fmt.Fprintln(os.Stderr, "usage: sigchat-client -user <name> -pass <password> -conv <id> [-server host:port] [-device]")
		os.Exit(1)
	}

	client := app.NewApp(cfg)
	client.Run(context.Background())
	client.Stop()
}
