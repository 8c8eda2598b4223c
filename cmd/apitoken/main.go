// Command apitoken mints a bearer token for the operator HTTP API.
//
//	API_TOKEN_SECRET=... apitoken -operator ops-dashboard -ttl 720h
//
// The secret is read from the environment (or .env) so it never shows up in
// shell history.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/breakroom/internal/auth"
)

func main() {
	operator := flag.String("operator", "", "name the token is issued to (required)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	envFile := flag.String("env", ".env", "env file to read API_TOKEN_SECRET from")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read env file", slog.String("file", *envFile), slog.String("error", err.Error()))
		os.Exit(1)
	}

	tokens, err := auth.NewTokenService(os.Getenv("API_TOKEN_SECRET"))
	if err != nil {
		slog.Error("invalid API_TOKEN_SECRET", slog.String("error", err.Error()))
		os.Exit(1)
	}

	token, err := tokens.Issue(*operator, *ttl)
	if err != nil {
		slog.Error("failed to issue token", slog.String("error", err.Error()))
		os.Exit(2)
	}
	fmt.Println(token)
}
