package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/auth"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	user := flag.String("user", "test-user-123", "user id (sub claim)")
	username := flag.String("username", "", "display name, defaults to the user id")
	team := flag.String("team", "", "team id")
	role := flag.String("role", "participant", "role, use admin for the admin feed")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Println("JWT_SECRET is not set")
		os.Exit(1)
	}
	if *username == "" {
		*username = *user
	}

	claims := auth.Claims{Sub: *user, Username: *username, TeamID: *team, Role: *role}
	token, err := auth.NewJWTValidator(secret).Sign(claims, *ttl)
	if err != nil {
		fmt.Printf("Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== JWT Token Generated ===")
	fmt.Println()
	fmt.Println(token)
	fmt.Println()
	fmt.Println("=== Token Claims ===")
	fmt.Printf("User ID: %s\n", *user)
	fmt.Printf("Team: %s\n", *team)
	fmt.Printf("Role: %s\n", *role)
	fmt.Printf("Expires: %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
}
