package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"med-eval/internal/config"
	"med-eval/internal/db"
	"med-eval/internal/domain"
	"med-eval/internal/repository"
	"med-eval/internal/service"
)

// import_snapshot carga archivos exportados con GET /evaluation/:id/export.
//
//	go run ./cmd/import_snapshot -credential secreto evaluation_alice.json ...
func main() {
	ctx := context.Background()
	_ = godotenv.Load()

	credential := flag.String("credential", os.Getenv("IMPORT_CREDENTIAL"), "credencial para evaluadores que no existen todavía")
	dryRun := flag.Bool("dry-run", false, "valida contra un store en memoria sin tocar la base")
	flag.Parse()
	if flag.NArg() == 0 {
		log.Fatalf("usage: import_snapshot [-credential X] [-dry-run] file.json ...")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	var (
		evaluators  repository.EvaluatorRepository
		evaluations repository.EvaluationRepository
	)
	switch {
	case *dryRun:
		store := repository.NewMemoryStore()
		evaluators, evaluations = store, store
	case cfg.UsesDatabase():
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			log.Fatalf("db pool: %v", err)
		}
		defer pool.Close()
		if err := db.Ping(ctx, pool); err != nil {
			log.Fatalf("db ping: %v", err)
		}
		if cfg.AutoMigrate {
			if err := db.EnsureSchema(ctx, pool); err != nil {
				log.Fatalf("db schema: %v", err)
			}
		}
		evaluators = repository.NewPgEvaluatorRepository(pool)
		evaluations = repository.NewPgEvaluationRepository(pool)
	default:
		log.Fatalf("DATABASE_URL is required unless -dry-run is set")
	}

	identity := service.NewIdentityService(logger, evaluators, nil)
	progress := service.NewProgressStore(logger, nil, evaluators, evaluations)

	failed := 0
	for _, path := range flag.Args() {
		snap, err := readSnapshot(path)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", path, err)
			failed++
			continue
		}
		res, created, err := importSnapshot(ctx, identity, progress, snap, *credential)
		if err != nil {
			fmt.Printf("❌ %s (%s): %v\n", path, snap.Profile.Username, err)
			failed++
			continue
		}
		status := "✅"
		if len(res.Failures) > 0 {
			status = "⚠️"
		}
		fmt.Printf("%s %s: evaluador=%s nuevo=%v aplicados=%d omitidos=%d fallidos=%d\n",
			status, path, snap.Profile.Username, created, len(res.Applied), len(res.Skipped), len(res.Failures))
		for _, f := range res.Failures {
			fmt.Printf("   conversación %d: %v\n", f.ConversationID, f.Err)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func readSnapshot(path string) (domain.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Profile.Username == "" {
		return domain.Snapshot{}, errors.New("snapshot without profile.username")
	}
	return snap, nil
}

// importSnapshot registra al evaluador si falta y fusiona sus conversaciones.
// Un evaluador existente no se re-autentica: el import es una operación administrativa.
func importSnapshot(ctx context.Context, identity *service.IdentityService, progress *service.ProgressStore, snap domain.Snapshot, credential string) (service.MergeResult, bool, error) {
	created := false
	evaluator, err := identity.GetByUsername(ctx, snap.Profile.Username)
	if errors.Is(err, service.ErrNotFound) {
		if credential == "" {
			return service.MergeResult{}, false, fmt.Errorf("evaluator %q does not exist and no credential was given", snap.Profile.Username)
		}
		evaluator, err = identity.Register(ctx, snap.Profile.Username, credential, snap.Profile.ProfileInput())
		created = err == nil
	}
	if err != nil {
		return service.MergeResult{}, false, err
	}

	res, err := progress.MergeProgress(ctx, evaluator.ID, snap.Conversations)
	if err != nil {
		return service.MergeResult{}, created, err
	}
	return res, created, nil
}
