// Command transcoder-admin is an operator CLI for credential lifecycle
// management, ad hoc migrations, and a storage backend health check — the
// operations spec §4.C's admin bullet describes as out-of-band from the
// HTTP Surface's own /api/v1/admin routes.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"

	"github.com/fluxcode/transcoder/internal/bootstrap"
	"github.com/fluxcode/transcoder/internal/config"
	applog "github.com/fluxcode/transcoder/pkg/log"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	subcommand := os.Args[1]

	fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
	configPath := fs.String("config", envOr("TRANSCODER_CONFIG", "/etc/transcoder/config.yaml"), "path to the service YAML config")

	var (
		label    string
		tierFlag string
		admin    bool
		keyID    string
	)
	switch subcommand {
	case "create-key":
		fs.StringVar(&label, "label", "", "human-readable label for the credential")
		fs.StringVar(&tierFlag, "tier", "free", "rate-limit tier: free, basic, premium, or enterprise")
		fs.BoolVar(&admin, "admin", false, "grant admin privileges")
	case "revoke-key":
		fs.StringVar(&keyID, "id", "", "credential ID to revoke")
	case "storage-status", "migrate":
		// no subcommand-specific flags
	default:
		usage()
		os.Exit(2)
	}
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("loading config: %v", err)
	}

	logger, err := applog.NewLogger(applog.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		stdlog.Fatalf("constructing logger: %v", err)
	}

	ctx := context.Background()
	svc, err := bootstrap.New(ctx, cfg, "transcoder-admin", logger)
	if err != nil {
		stdlog.Fatalf("wiring services: %v", err)
	}
	defer svc.Close()

	switch subcommand {
	case "create-key":
		runCreateKey(ctx, svc, label, tierFlag, admin)
	case "revoke-key":
		runRevokeKey(ctx, svc, keyID)
	case "storage-status":
		runStorageStatus(ctx, svc)
	case "migrate":
		fmt.Println("migrations already applied during startup wiring; re-run is a no-op unless new files were added")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: transcoder-admin <create-key|revoke-key|storage-status|migrate> [flags]")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
