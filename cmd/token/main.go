// Command token 使用配置的 JWT 密钥签发一个开发用的 Bearer token。
package main

import (
	"flag"
	"fmt"
	"os"

	"ragchat/internal/config"
	"ragchat/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	userID := flag.String("user", "", "user id to place in the token subject")
	email := flag.String("email", "", "optional email claim")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: token -user <id> [-email <addr>] [-config <path>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	jwt := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenHours)
	signed, err := jwt.GenerateToken(*userID, *email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(signed)
}
