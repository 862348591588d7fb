package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/prognosis/internal/auth"
	"github.com/pavelanni/prognosis/internal/handler"
	"github.com/pavelanni/prognosis/internal/model"
	"github.com/pavelanni/prognosis/internal/session"
	"github.com/pavelanni/prognosis/internal/store"
	firestorestore "github.com/pavelanni/prognosis/internal/store/firestore"
	"github.com/pavelanni/prognosis/internal/store/memory"
)

// backend is what every storage engine provides to the commands.
type backend interface {
	session.CaseRepository
	session.SessionStore
	session.ImportLedger
	handler.Store
	auth.TokenStore
	ExportSessions(ctx context.Context) (*model.SessionExport, error)
	CleanupExpiredTokens(ctx context.Context) (int64, error)
	Close() error
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*firestorestore.Store)(nil)
	_ backend = (*memory.Store)(nil)
)

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("store", "sqlite", "Storage backend (sqlite, firestore, memory)")
	f.String("db", "prognosis.db", "SQLite database path")
	f.String("firestore-project", "", "Google Cloud project for the Firestore backend")
	f.String("firestore-credentials", "", "Service account JSON file (default: application default credentials)")
}

func openBackend(ctx context.Context, v *viper.Viper) (backend, error) {
	switch kind := v.GetString("store"); kind {
	case "sqlite", "":
		db, err := store.New(v.GetString("db"))
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		cases, _ := db.CaseCount(ctx)
		users, _ := db.UserCount(ctx)
		slog.Info("using sqlite store", "path", v.GetString("db"), "cases", cases, "users", users)
		return db, nil
	case "firestore":
		project := v.GetString("firestore-project")
		if project == "" {
			return nil, fmt.Errorf("--firestore-project (or PROGNOSIS_FIRESTORE_PROJECT) is required for the firestore store")
		}
		fs, err := firestorestore.New(ctx, project, v.GetString("firestore-credentials"))
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		slog.Info("using firestore store", "project", project)
		return fs, nil
	case "memory":
		slog.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q (want sqlite, firestore or memory)", kind)
	}
}

func newAuthProvider(v *viper.Viper, st backend) (auth.Provider, error) {
	ttl := v.GetDuration("token-ttl")
	switch mode := v.GetString("auth-mode"); mode {
	case "jwt", "":
		secret := v.GetString("jwt-secret")
		if secret == "" {
			return nil, fmt.Errorf("jwt secret is required: set --jwt-secret or PROGNOSIS_JWT_SECRET")
		}
		p, err := auth.NewJWTProvider(secret, ttl)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "token":
		return auth.NewTokenProvider(st, st, ttl), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q (want jwt or token)", mode)
	}
}

// cleanupTokens deletes expired opaque tokens every interval until ctx is
// done.
func cleanupTokens(ctx context.Context, st backend, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.CleanupExpiredTokens(ctx)
			if err != nil {
				slog.Error("token cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("removed expired tokens", "count", n)
			}
		}
	}
}
