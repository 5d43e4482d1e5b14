// reconcile пересчитывает оплаченные суммы проектов по таблице платежей
// и закрывает зависшие PENDING-платежи, по которым Stripe так и не прислал событие.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/brightlane/portal/internal/app/config"
	"github.com/brightlane/portal/internal/app/dsn"
	"github.com/brightlane/portal/internal/app/repository"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "только показать расхождения, ничего не менять")
	projectID := flag.Uint("project", 0, "пересчитать только этот проект")
	stale := flag.Duration("stale", 24*time.Hour, "возраст, после которого PENDING-платёж считается брошенным (0 - не трогать)")
	flag.Parse()

	_ = godotenv.Load()

	dsnStr := dsn.FromEnv()
	if dsnStr == "" {
		log.Fatal("DSN string is empty. Check your .env file")
	}
	repo, err := repository.New(dsnStr, config.DBConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	if *dryRun {
		log.Info("dry run: changes are not saved")
	}

	if *stale > 0 && *projectID == 0 {
		expired, err := repo.ExpireStalePayments(ctx, time.Now().Add(-*stale), *dryRun)
		if err != nil {
			log.Fatalf("expire stale payments: %v", err)
		}
		for _, p := range expired {
			log.WithFields(log.Fields{
				"payment_id": p.ID,
				"amount":     p.Amount,
				"created_at": p.CreatedAt.Format(time.RFC3339),
			}).Info("stale pending payment expired")
		}
	}

	ids := []uint{*projectID}
	if *projectID == 0 {
		ids, err = repo.ListProjectIDs(ctx)
		if err != nil {
			log.Fatalf("list projects: %v", err)
		}
	}

	var fixed, failed int
	for _, id := range ids {
		res, err := repo.RecomputeProjectPaid(ctx, id, *dryRun)
		if err != nil {
			log.Errorf("project %d: %v", id, err)
			failed++
			continue
		}
		fields := log.Fields{"project_id": id, "before": res.Before, "after": res.After, "total": res.Total}
		if res.Before != res.After {
			fixed++
			log.WithFields(fields).Warn("paid amount corrected")
		}
		if res.After > res.Total {
			log.WithFields(fields).Warn("project is overpaid")
		}
	}

	log.Infof("reconcile done: %d projects checked, %d corrected, %d failed", len(ids), fixed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
