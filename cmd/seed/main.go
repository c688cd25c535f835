// seed completes registration for existing Kratos identities so they are not classified as orphaned.
// Each -email gets a profile and an owner membership in the dev organization. With -profile-only the
// membership is skipped, leaving a partially registered identity for local testing.
// Idempotent: profiles are upserted and existing memberships are left unchanged.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"orphan-recovery/internal/config"
	"orphan-recovery/internal/db"
	identitydomain "orphan-recovery/internal/identity/domain"
	"orphan-recovery/internal/identity/gateway"
	membershipdomain "orphan-recovery/internal/membership/domain"
	membershiprepo "orphan-recovery/internal/membership/repository"
	profiledomain "orphan-recovery/internal/profile/domain"
	profilerepo "orphan-recovery/internal/profile/repository"
)

const devOrgID = "dev-org-001"

func main() {
	emails := flag.String("email", "dev@example.com", "Comma-separated emails of Kratos identities to complete")
	profileOnly := flag.Bool("profile-only", false, "Create profiles without memberships")
	flag.Parse()

	if err := run(*emails, *profileOnly); err != nil {
		slog.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(emails string, profileOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	kratos := gateway.NewKratosGateway(cfg.KratosPublicURL, cfg.KratosAdminURL, cfg.KratosRequestTimeout())
	profiles := profilerepo.NewPostgresRepository(pool)
	memberships := membershiprepo.NewPostgresRepository(pool)

	now := time.Now().UTC()
	for _, email := range strings.Split(emails, ",") {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		ident, err := kratos.GetByEmail(ctx, email)
		if errors.Is(err, identitydomain.ErrNotFound) {
			slog.Warn("seed: no identity for email, skipping", "email", email)
			continue
		}
		if err != nil {
			return fmt.Errorf("lookup %s: %w", email, err)
		}

		if err := profiles.Upsert(ctx, &profiledomain.Profile{
			IdentityID:  ident.ID,
			DisplayName: strings.SplitN(email, "@", 2)[0],
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("profile for %s: %w", email, err)
		}
		if !profileOnly {
			if err := memberships.Create(ctx, &membershipdomain.Membership{
				ID:         "dev-membership-" + ident.ID,
				IdentityID: ident.ID,
				OrgID:      devOrgID,
				Role:       membershipdomain.RoleOwner,
				CreatedAt:  now,
			}); err != nil {
				return fmt.Errorf("membership for %s: %w", email, err)
			}
		}
		slog.Info("seed: identity completed", "email", email, "identity_id", ident.ID, "profile_only", profileOnly)
	}
	return nil
}
