package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gatepass/access-server/internal/auth"
	"github.com/gatepass/access-server/internal/model"
)

func main() {
	subject := flag.String("sub", "", "actor id")
	org := flag.String("org", "", "organization id")
	role := flag.String("role", string(model.RoleGuard), "resident, guard or admin")
	unit := flag.String("unit", "", "unit id (residents only)")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" || *subject == "" || *org == "" {
		fmt.Fprintf(os.Stderr, "Usage: JWT_SECRET=... go run ./scripts/issue-token -sub <id> -org <org> [-role guard] [-unit <unit>]\n")
		os.Exit(1)
	}

	token, err := auth.NewTokenService(secret).Issue(&model.Actor{
		ID:             *subject,
		OrganizationID: *org,
		Role:           model.Role(*role),
		UnitID:         *unit,
	}, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
