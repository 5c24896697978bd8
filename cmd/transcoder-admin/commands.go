package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"

	"github.com/fluxcode/transcoder/internal/bootstrap"
	"github.com/fluxcode/transcoder/pkg/ratelimit"
)

var validTiers = map[string]ratelimit.Tier{
	"free":       ratelimit.TierFree,
	"basic":      ratelimit.TierBasic,
	"premium":    ratelimit.TierPremium,
	"enterprise": ratelimit.TierEnterprise,
}

func runCreateKey(ctx context.Context, svc *bootstrap.Services, label, tierFlag string, admin bool) {
	tier, ok := validTiers[tierFlag]
	if !ok {
		stdlog.Fatalf("unknown tier %q: must be one of free, basic, premium, enterprise", tierFlag)
	}

	rawSecret, cred, err := svc.Credentials.Mint(ctx, label, tier, admin)
	if err != nil {
		stdlog.Fatalf("minting credential: %v", err)
	}

	fmt.Printf("credential_id: %s\n", cred.ID)
	fmt.Printf("secret:        %s\n", rawSecret)
	fmt.Printf("tier:          %s\n", cred.Tier)
	fmt.Printf("admin:         %t\n", cred.Admin)
	fmt.Fprintln(os.Stderr, "\nthe secret above is shown once and is not recoverable; store it now")
}

func runRevokeKey(ctx context.Context, svc *bootstrap.Services, keyID string) {
	if keyID == "" {
		stdlog.Fatal("revoke-key requires -id")
	}
	if err := svc.Credentials.Revoke(ctx, keyID); err != nil {
		stdlog.Fatalf("revoking credential: %v", err)
	}
	fmt.Printf("revoked credential %s\n", keyID)
}

func runStorageStatus(ctx context.Context, svc *bootstrap.Services) {
	failed := false
	for name, backend := range svc.Storage.All() {
		if err := backend.Probe(ctx); err != nil {
			failed = true
			fmt.Printf("%-10s UNREACHABLE: %v\n", name, err)
			continue
		}
		fmt.Printf("%-10s ok\n", name)
	}
	if failed {
		os.Exit(1)
	}
}
