package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"paragon/pkg/auth"
	"paragon/pkg/config"
)

func main() {
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	role := flag.String("role", "user", "role claim")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("usage: go run ./cmd/issue_token [-ttl 24h] [-role user] <username>")
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: %v", err)
	}
	secret := os.Getenv("JWT_SECRET")
	if strings.TrimSpace(secret) == "" {
		log.Fatal("JWT_SECRET not set in environment")
	}
	token, err := auth.IssueToken([]byte(secret), flag.Arg(0), *role, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
