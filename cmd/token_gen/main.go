package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/technosupport/ts-license/internal/config"
	"github.com/technosupport/ts-license/internal/platform/paths"
	"github.com/technosupport/ts-license/internal/tokens"
)

// token_gen prints the current client token, or mints an operator JWT with -operator.
func main() {
	configPath := flag.String("config", "", "path to YAML config")
	secret := flag.String("secret", "", "shared secret (defaults to the configured one)")
	operator := flag.String("operator", "", "mint an operator token for this subject instead")
	scopes := flag.String("scopes", strings.Join(tokens.AllScopes, ","), "comma separated operator scopes")
	ttl := flag.Duration("ttl", 0, "operator token lifetime (defaults to auth.operator_ttl)")
	flag.Parse()

	if *operator == "" && *secret != "" {
		fmt.Println(tokens.Derive(*secret, time.Now()))
		return
	}

	cfg, err := config.Load(paths.ResolveConfigPath(*configPath))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *operator == "" {
		if cfg.Auth.Mode != config.AuthModeHourly {
			fmt.Fprintln(os.Stderr, "warning: server is in static key mode; hourly tokens will be rejected")
		}
		fmt.Println(tokens.Derive(cfg.Auth.Secret, time.Now()))
		return
	}

	lifetime := *ttl
	if lifetime == 0 {
		lifetime = cfg.Auth.OperatorTTL
	}
	var granted []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			granted = append(granted, s)
		}
	}

	mgr := tokens.NewManager(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)
	token, err := mgr.GenerateOperatorToken(*operator, granted, lifetime)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
