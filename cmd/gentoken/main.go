package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/api/middleware"
)

// gentoken mints a development session token for exercising the API
// locally with curl. Production tokens come from the identity service.
func main() {
	user := flag.String("user", "", "user id (defaults to a random UUID)")
	org := flag.String("org", "", "org id (defaults to a random UUID)")
	name := flag.String("name", "", "display name claim")
	admin := flag.Bool("admin", false, "grant the admin claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := flag.String("secret", "dev-secret-do-not-use-in-production", "HS256 signing secret")
	flag.Parse()

	userID := uuid.New()
	if *user != "" {
		parsed, err := uuid.Parse(*user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid user id: %v\n", err)
			os.Exit(1)
		}
		userID = parsed
	}

	orgID := uuid.New()
	if *org != "" {
		parsed, err := uuid.Parse(*org)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid org id: %v\n", err)
			os.Exit(1)
		}
		orgID = parsed
	}

	now := time.Now()
	claims := middleware.SessionClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID.String(),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(*ttl).Unix(),
		},
		OrgID:       orgID.String(),
		DisplayName: *name,
		Admin:       *admin,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "signing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User:  %s\n", userID)
	fmt.Printf("Org:   %s\n", orgID)
	fmt.Printf("Token: %s\n", token)
}
