package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/subscription-billing/internal/core/events"
	"github.com/frahmantamala/subscription-billing/internal/payment"
	"github.com/frahmantamala/subscription-billing/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Manage events: publish test events, monitor event bus, inspect handlers`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test event",
	Long:  `Publish a test event through the registered payment handlers, e.g. payment.paid or payment.failed`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		publishTestEvent(args[0])
	},
}

var eventPaymentID string

func publishTestEvent(eventType string) {
	log := logger.LoggerWrapper()

	eventBus := events.NewEventBus(log)
	payment.NewEventHandler(log).RegisterEventHandlers(eventBus)

	testEvent := events.BaseEvent{
		ID:        fmt.Sprintf("test-%d", time.Now().Unix()),
		Type:      eventType,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"payment_id": eventPaymentID,
			"source":     "cli-command",
		},
	}

	log.Info("publishing test event", "event_type", eventType, "event_id", testEvent.ID)

	// synchronous publish so the command observes handler errors instead
	// of exiting before they run
	ctx := context.Background()
	if err := eventBus.PublishSync(ctx, testEvent); err != nil {
		log.Error("failed to publish event", "error", err)
		return
	}

	log.Info("test event published successfully")
}

func init() {

	publishEventCmd.Flags().StringVar(&eventPaymentID, "payment-id", "pay_test", "Payment public id carried in the event payload")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
