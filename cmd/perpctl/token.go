package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		subject   string
		issuer    string
		audience  string
		secretEnv string
		ttl       time.Duration
	)
	fs.StringVar(&subject, "sub", "", "Caller address embedded as the token subject")
	fs.StringVar(&issuer, "issuer", "hedgeline", "Token issuer")
	fs.StringVar(&audience, "audience", "perpd", "Token audience")
	fs.StringVar(&secretEnv, "secret-env", "PERPD_JWT_SECRET", "Environment variable holding the HMAC secret")
	fs.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	token, err := mintToken(subject, issuer, audience, os.Getenv(secretEnv), ttl, time.Now())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func mintToken(subject, issuer, audience, secret string, ttl time.Duration, now time.Time) (string, error) {
	subject = strings.TrimSpace(subject)
	if !ethcommon.IsHexAddress(subject) {
		return "", fmt.Errorf("-sub must be a hex address")
	}
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("-ttl must be positive")
	}
	claims := jwt.MapClaims{
		"sub": ethcommon.HexToAddress(subject).Hex(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		claims["iss"] = issuer
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}
