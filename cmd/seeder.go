package cmd

import (
	"fmt"
	"log"
	"time"

	subscriptionDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/subscription"
	"github.com/frahmantamala/subscription-billing/internal/subscription"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample subscriptions for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		if clearData {
			// payments reference subscriptions, so they go first
			if _, err := db.Exec("DELETE FROM payments"); err != nil {
				log.Fatalf("failed to clear payments: %v", err)
			}
			if _, err := db.Exec("DELETE FROM subscriptions"); err != nil {
				log.Fatalf("failed to clear subscriptions: %v", err)
			}
			fmt.Println("Cleared existing payments and subscriptions")
		}

		type seedSubscription struct {
			BusinessID int64
			PlanName   string
			Status     string
			Token      string
		}

		subscriptions := []seedSubscription{
			{BusinessID: 1001, PlanName: "starter_monthly", Status: subscriptionDatamodel.StatusActive, Token: "token_demo_starter_4111"},
			{BusinessID: 1001, PlanName: "analytics_addon", Status: subscriptionDatamodel.StatusActive, Token: "token_demo_addon_4242"},
			{BusinessID: 2002, PlanName: "growth_monthly", Status: subscriptionDatamodel.StatusPastDue, Token: "token_demo_growth_5105"},
			// no stored token: tokenized charges against this one must be refused
			{BusinessID: 3003, PlanName: "enterprise_annual", Status: subscriptionDatamodel.StatusActive, Token: ""},
		}

		periodEnd := time.Now().AddDate(0, 1, 0)

		for _, s := range subscriptions {
			var exists int
			if err := db.QueryRow(
				"SELECT 1 FROM subscriptions WHERE business_id = $1 AND plan_name = $2",
				s.BusinessID, s.PlanName,
			).Scan(&exists); err == nil {
				fmt.Printf("subscription already exists: business %d plan %s\n", s.BusinessID, s.PlanName)
				continue
			}

			publicID := fmt.Sprintf("sub_%s", uuid.NewString())

			if s.Token == "" {
				if _, err := db.Exec(
					`INSERT INTO subscriptions (public_id, business_id, plan_name, status, current_period_end, created_at, updated_at)
					 VALUES ($1, $2, $3, $4, $5, now(), now())`,
					publicID, s.BusinessID, s.PlanName, s.Status, periodEnd,
				); err != nil {
					log.Fatalf("failed to insert subscription %s: %v", s.PlanName, err)
				}
				fmt.Printf("Seeded subscription without stored token: business %d plan %s\n", s.BusinessID, s.PlanName)
				continue
			}

			fingerprint := subscription.TokenFingerprint(s.Token)
			if _, err := db.Exec(
				`INSERT INTO subscriptions (public_id, business_id, plan_name, status, moyasar_token_id, token_fingerprint, current_period_end, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
				publicID, s.BusinessID, s.PlanName, s.Status, s.Token, fingerprint, periodEnd,
			); err != nil {
				log.Fatalf("failed to insert subscription %s: %v", s.PlanName, err)
			}
			fmt.Printf("Seeded subscription: business %d plan %s fingerprint %s\n", s.BusinessID, s.PlanName, fingerprint)
		}

		fmt.Println("Subscriptions seeded successfully")
	},
}
