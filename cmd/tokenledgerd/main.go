package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/pasarloka/tokenledger/ads"
	"github.com/pasarloka/tokenledger/auth"
	"github.com/pasarloka/tokenledger/campaign"
	"github.com/pasarloka/tokenledger/config"
	"github.com/pasarloka/tokenledger/ledger"
	"github.com/pasarloka/tokenledger/middleware"
	"github.com/pasarloka/tokenledger/models"
	"github.com/pasarloka/tokenledger/observability/logging"
	"github.com/pasarloka/tokenledger/server"
	"github.com/pasarloka/tokenledger/withdrawal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup("tokenledgerd", cfg.Env, logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	campaignStart, campaignEnd := cfg.CampaignWindow()
	led := ledger.New(ledger.Config{
		DB: db,
		OG: ledger.OGConfig{
			CampaignStart:        campaignStart,
			CampaignEnd:          campaignEnd,
			BenefitsDays:         cfg.OG.BenefitsDays,
			TokenMultiplierBps:   cfg.OG.TokenMultiplierBps,
			UsageDiscountPercent: cfg.OG.UsageDiscountPercent,
		},
		Logger: logger,
	})

	adSvc := ads.New(ads.Config{DB: db, Ledger: led})
	campaignSvc := campaign.New(campaign.Config{DB: db, Ledger: led})
	withdrawalSvc := withdrawal.New(withdrawal.Config{
		DB:      db,
		Minimum: cfg.Withdrawal.MinimumAmount,
		Fees: withdrawal.ConfiguredFee{
			Flat:    cfg.Withdrawal.FeeFlat,
			Percent: cfg.Withdrawal.FeePercent,
		},
	})

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for name, rl := range cfg.RateLimits {
		limits[name] = middleware.RateLimit{RequestsPerMinute: rl.RequestsPerMinute, Burst: rl.Burst}
	}

	srv := server.New(server.Config{
		DB:          db,
		Ledger:      led,
		Ads:         adSvc,
		Campaigns:   campaignSvc,
		Withdrawals: withdrawalSvc,
		Auth: auth.New(auth.Config{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.Issuer,
			Leeway: time.Duration(cfg.Auth.LeewaySeconds) * time.Second,
		}),
		RateLimits: limits,
		Logger:     logger,
	})

	sweeper := ledger.NewSweeper(ledger.SweeperConfig{
		Ledger:   led,
		Interval: cfg.SweepInterval(),
		Logger:   logger,
		Hooks: []func(context.Context) error{
			func(ctx context.Context) error {
				_, err := adSvc.ExpireFinished(ctx)
				return err
			},
		},
	})
	go sweeper.Start(context.Background())

	logger.Info("starting tokenledgerd", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Handler()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
