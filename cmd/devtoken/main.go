// devtoken mints a bearer token for local testing against a campusrun
// server that uses the same secret.
//
//	devtoken --user alice
//	devtoken --config campusrun.yaml --user bob --ttl 1h
package main

import (
	"errors"
	"fmt"
	"os"

	"campusrun/internal/auth"
	"campusrun/internal/config"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, userID, secret string

	flagSet := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the server's YAML config file")
	flagSet.StringVarP(&userID, "user", "u", "", "user id to put in the token subject (required)")
	flagSet.StringVar(&secret, "secret", "", "signing secret, overrides auth.jwt_secret")
	ttl := flagSet.Duration("ttl", 0, "token lifetime, overrides auth.token_ttl")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if userID == "" {
		return errors.New("--user is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if *ttl > 0 {
		cfg.Auth.TokenTTL = *ttl
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(userID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
