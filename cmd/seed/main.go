// seed inserts a test user with digest schedules into the local dev
// database and, when JWT_SECRET is set, prints a ready-to-use token.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/ErlanBelekov/daybrief/internal/infrastructure/postgres"
	"github.com/golang-jwt/jwt/v5"
)

const (
	seedUserID   = "seed-user"
	seedEmail    = "seed@daybrief.local"
	seedTimezone = "America/New_York"
)

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set — run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	loc, err := time.LoadLocation(seedTimezone)
	if err != nil {
		log.Fatalf("load location: %v", err)
	}
	now := time.Now().In(loc)

	// The engine checks every CHECK_INTERVAL_MIN minutes with a tolerance
	// window, so a schedule two minutes out fires on the next pass.
	dueAt := now.Add(2 * time.Minute)
	dueClock := fmt.Sprintf("%02d:%02d", dueAt.Hour(), dueAt.Minute())
	claimedAt := now.UTC()

	digests := []domain.DigestSchedule{
		{
			// Fires on the engine's next pass.
			ID:      "seed-morning-brief",
			Name:    "Morning Brief",
			Time:    dueClock,
			Days:    []string{dueAt.Weekday().String()},
			Topics:  []string{"go", "distributed systems"},
			Enabled: true,
		},
		{
			// Same wall-clock time, but the claim below blocks a second run
			// today. Watch the engine log it as already ran.
			ID:      "seed-market-close",
			Name:    "Market Close",
			Time:    dueClock,
			Days:    []string{dueAt.Weekday().String()},
			Topics:  []string{"finance"},
			Enabled: true,
			LastRun: &claimedAt,
		},
		{
			// Disabled schedules are never considered.
			ID:      "seed-weekend-reading",
			Name:    "Weekend Reading",
			Time:    "09:00",
			Days:    []string{"Saturday", "Sunday"},
			Topics:  []string{"books"},
			Enabled: false,
		},
	}

	encoded, err := json.Marshal(digests)
	if err != nil {
		log.Fatalf("encode digests: %v", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO users (id, email, timezone, digests)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			email      = EXCLUDED.email,
			timezone   = EXCLUDED.timezone,
			digests    = EXCLUDED.digests,
			version    = users.version + 1,
			updated_at = NOW()`,
		seedUserID, seedEmail, seedTimezone, encoded,
	)
	if err != nil {
		log.Fatalf("upsert user: %v", err)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  User:       %s (%s)\n", seedUserID, seedEmail)
	fmt.Printf("  Timezone:   %s\n", seedTimezone)
	fmt.Printf("  Due digest: %q at %s %s (~2 minutes from now)\n", "Morning Brief", dueClock, seedTimezone)
	fmt.Println()

	token := mintToken()
	if token == "" {
		fmt.Println("  Set JWT_SECRET to also print a ready-to-use token.")
	} else {
		fmt.Println("  Token for the seed user (24h):")
		fmt.Println()
		fmt.Printf("    export JWT=%s\n", token)
	}

	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1 — check the account and its schedules:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/me -H \"Authorization: Bearer $JWT\"")
	fmt.Println("    curl -s http://localhost:8080/digests -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  Step 2 — run the engine and wait for the next pass:")
	fmt.Println()
	fmt.Println("    go run ./cmd/scheduler")
	fmt.Println()
	fmt.Println("  Step 3 — read back what it produced:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/digests/seed-morning-brief/history \\")
	fmt.Println("      -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    Morning Brief    →  fires once, then skips (claimed for today)")
	fmt.Println("    Market Close     →  logged as already ran (seeded claim)")
	fmt.Println("    Weekend Reading  →  never considered (disabled)")
}

// mintToken signs a 24h HS256 token for the seed user when JWT_SECRET is
// set, matching what the API middleware verifies.
func mintToken() string {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return ""
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   seedUserID,
		"email": seedEmail,
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	return signed
}
