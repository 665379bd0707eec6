// Command dsd-token mints access tokens for operators and the modem bridge.
// Signing settings come from the same JWT_* variables the daemon reads.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"telecom-domainselection/internal/auth"
	"telecom-domainselection/internal/config"
	"telecom-domainselection/internal/rbac"
)

func main() {
	var (
		userID = flag.String("user", "", "Subject of the token (required)")
		role   = flag.String("role", rbac.RoleOperator, "One of viewer, operator, admin, modem")
		ttl    = flag.Duration("ttl", 0, "Token lifetime; defaults to JWT_ACCESS_TTL or 15m")
	)
	flag.Parse()

	if err := config.LoadEnvFile(); err != nil {
		log.Fatalf("failed to load env file: %v", err)
	}
	if strings.TrimSpace(*userID) == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !rbac.IsKnownRole(*role) {
		log.Fatalf("unknown role %q", *role)
	}

	cfg := config.AuthConfig{
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
	}
	if *ttl > 0 {
		cfg.AccessTokenTTL = *ttl
	} else if v := strings.TrimSpace(os.Getenv("JWT_ACCESS_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("JWT_ACCESS_TTL must be a duration: %v", err)
		}
		cfg.AccessTokenTTL = d
	}

	m, err := auth.NewManager(cfg)
	if err != nil {
		log.Fatalf("failed to init signer: %v", err)
	}
	tok, err := m.Issue(time.Now(), *userID, *role)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	fmt.Println(tok)
}
