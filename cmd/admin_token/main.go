package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"idle_mining/internal/domain"
	"idle_mining/internal/logger"
	"idle_mining/internal/service"

	"github.com/joho/godotenv"
)

// admin_token mints a confirmation token for one destructive admin action:
//
//	admin_token -action reset -address 0x... -ttl 5m
func main() {
	_ = godotenv.Load()

	action := flag.String("action", "", "reconcile, discard or reset")
	address := flag.String("address", "", "player wallet address")
	ttl := flag.Duration("ttl", service.DefaultConfirmTTL, "token lifetime")
	flag.Parse()

	switch service.Action(*action) {
	case service.ActionReconcile, service.ActionDiscard, service.ActionReset:
	default:
		logger.Fatal("unknown action", "action", *action)
	}

	addr, err := domain.NormalizeAddress(*address)
	if err != nil {
		logger.Fatal("invalid address", "error", err)
	}

	confirm := service.NewConfirmer(os.Getenv("ADMIN_JWT_SECRET"))
	token, err := confirm.Issue(service.Action(*action), addr, *ttl)
	if err != nil {
		logger.Fatal("issue token", "error", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "valid until %s\n", time.Now().Add(*ttl).UTC().Format(time.RFC3339))
}
