package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"gorm.io/gorm"
)

// outbox-redrive resets DEAD order-event outbox rows back to PENDING so the
// dispatcher retries them. Use after fixing the underlying publish failure
// (topic misconfiguration, credentials, quota).
func main() {
	orderID := flag.String("order-id", "", "Optional: limit redrive to one order (uuid)")
	dryRun := flag.Bool("dry-run", true, "Show matching rows only (no writes)")
	confirm := flag.String("confirm", "", "Type REDRIVE to proceed when dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "REDRIVE" {
		fmt.Fprintln(os.Stderr, "set --confirm=REDRIVE to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	q := db.Model(&models.OrderEventRecord{}).Where("publish_status = ?", models.OutboxPublishStatusDead)
	if strings.TrimSpace(*orderID) != "" {
		q = q.Where("order_id = ?", strings.TrimSpace(*orderID))
	}

	if *dryRun {
		var rows []models.OrderEventRecord
		if err := q.Order("id").Find(&rows).Error; err != nil {
			fmt.Fprintf(os.Stderr, "query dead rows: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("[dry-run] %d dead outbox row(s)\n", len(rows))
		for _, r := range rows {
			lastErr := ""
			if r.LastPublishError != nil {
				lastErr = *r.LastPublishError
			}
			fmt.Printf("  id=%d order=%s %s->%s attempts=%d last_error=%q\n",
				r.ID, r.OrderId, r.OldStatus, r.NewStatus, r.PublishAttempts, lastErr)
		}
		return
	}

	res := q.Updates(map[string]interface{}{
		"publish_status":   models.OutboxPublishStatusPending,
		"publish_attempts": 0,
		"next_attempt_at":  gorm.Expr("NULL"),
		"locked_at":        gorm.Expr("NULL"),
		"locked_by":        gorm.Expr("NULL"),
	})
	if res.Error != nil {
		fmt.Fprintf(os.Stderr, "redrive failed: %v\n", res.Error)
		os.Exit(1)
	}
	fmt.Printf("redrove %d outbox row(s)\n", res.RowsAffected)
}
