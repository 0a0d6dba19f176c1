package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/payment"
	"github.com/mmdatafocus/storefront_backend/workflow"
	"github.com/sirupsen/logrus"
)

func TestReconcilerWebhookFlows(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "storefront_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	logger := logrus.New()
	rec := workflow.NewReconciler(db, config.GetRedisLock(), logger)

	const userId = "11111111-1111-1111-1111-111111111111"
	// Three distinct products; the qty-2 line pins that entitlements are
	// per product, not per unit.
	items := []models.NewOrderItem{
		{ProductId: "22222222-2222-2222-2222-222222222222", ProductName: "Starter", Quantity: 1, UnitPrice: 50000},
		{ProductId: "33333333-3333-3333-3333-333333333333", ProductName: "Pro", Quantity: 2, UnitPrice: 50000},
		{ProductId: "44444444-4444-4444-4444-444444444444", ProductName: "Addon", Quantity: 1, UnitPrice: 25000},
	}

	newOrder := func(t *testing.T) *models.Order {
		t.Helper()
		order, err := models.CreateOrderWithItems(db, ctx, userId, "IDR", items)
		if err != nil {
			t.Fatalf("CreateOrderWithItems: %v", err)
		}
		if order.TotalAmount != 175000 {
			t.Fatalf("TotalAmount = %d, want 175000", order.TotalAmount)
		}
		return order
	}

	reloadOrder := func(t *testing.T, id string) *models.Order {
		t.Helper()
		order, err := models.GetOrder(db, ctx, id)
		if err != nil {
			t.Fatalf("GetOrder(%s): %v", id, err)
		}
		return order
	}

	countAccess := func(t *testing.T, orderId string) int64 {
		t.Helper()
		var n int64
		if err := db.Model(&models.UserProductAccess{}).Where("order_id = ?", orderId).Count(&n).Error; err != nil {
			t.Fatalf("count access rows: %v", err)
		}
		return n
	}

	countEvents := func(t *testing.T, orderId string) int64 {
		t.Helper()
		var n int64
		if err := db.Model(&models.OrderEventRecord{}).Where("order_id = ?", orderId).Count(&n).Error; err != nil {
			t.Fatalf("count event rows: %v", err)
		}
		return n
	}

	settlement := func(orderId string) payment.Notification {
		return payment.Notification{
			OrderId:           orderId,
			TransactionStatus: "settlement",
			TransactionId:     "txn-" + orderId[:8],
			PaymentType:       "bank_transfer",
		}
	}

	t.Run("settlement pays and provisions once", func(t *testing.T) {
		order := newOrder(t)

		if err := rec.ApplyNotification(ctx, settlement(order.ID)); err != nil {
			t.Fatalf("ApplyNotification: %v", err)
		}

		got := reloadOrder(t, order.ID)
		if got.Status != models.OrderStatusPaid {
			t.Fatalf("status = %s, want paid", got.Status)
		}
		if got.PaymentTransactionId == nil || *got.PaymentTransactionId == "" {
			t.Fatalf("payment transaction id not recorded")
		}
		if got.PaymentType == nil || *got.PaymentType != "bank_transfer" {
			t.Fatalf("payment type not recorded")
		}
		if n := countAccess(t, order.ID); n != int64(len(items)) {
			t.Fatalf("access rows = %d, want %d", n, len(items))
		}
		if n := countEvents(t, order.ID); n != 1 {
			t.Fatalf("event rows = %d, want 1", n)
		}

		// Redelivery of the same notification must be a no-op.
		if err := rec.ApplyNotification(ctx, settlement(order.ID)); err != nil {
			t.Fatalf("redelivered ApplyNotification: %v", err)
		}
		if n := countAccess(t, order.ID); n != int64(len(items)) {
			t.Fatalf("access rows after redelivery = %d, want %d", n, len(items))
		}
		if n := countEvents(t, order.ID); n != 1 {
			t.Fatalf("event rows after redelivery = %d, want 1", n)
		}
	})

	t.Run("late pending never downgrades a paid order", func(t *testing.T) {
		order := newOrder(t)
		paid := settlement(order.ID)
		if err := rec.ApplyNotification(ctx, paid); err != nil {
			t.Fatalf("ApplyNotification(settlement): %v", err)
		}

		// A bare pending redelivery carries no gateway identifiers; it must
		// neither downgrade the status nor blank the recorded ones.
		late := payment.Notification{OrderId: order.ID, TransactionStatus: "pending"}
		if err := rec.ApplyNotification(ctx, late); err != nil {
			t.Fatalf("ApplyNotification(pending): %v", err)
		}
		got := reloadOrder(t, order.ID)
		if got.Status != models.OrderStatusPaid {
			t.Fatalf("status after late pending = %s, want paid", got.Status)
		}
		if got.PaymentTransactionId == nil || *got.PaymentTransactionId != paid.TransactionId {
			t.Fatalf("payment transaction id lost after late pending")
		}
		if got.PaymentType == nil || *got.PaymentType != paid.PaymentType {
			t.Fatalf("payment type lost after late pending")
		}
	})

	t.Run("capture under fraud challenge stays pending until accepted", func(t *testing.T) {
		order := newOrder(t)

		challenge := payment.Notification{
			OrderId:           order.ID,
			TransactionStatus: "capture",
			FraudStatus:       "challenge",
			TransactionId:     "txn-cc-1",
			PaymentType:       "credit_card",
		}
		if err := rec.ApplyNotification(ctx, challenge); err != nil {
			t.Fatalf("ApplyNotification(challenge): %v", err)
		}
		if got := reloadOrder(t, order.ID); got.Status != models.OrderStatusPending {
			t.Fatalf("status under challenge = %s, want pending", got.Status)
		}
		if n := countAccess(t, order.ID); n != 0 {
			t.Fatalf("access rows under challenge = %d, want 0", n)
		}

		accepted := challenge
		accepted.FraudStatus = "accept"
		if err := rec.ApplyNotification(ctx, accepted); err != nil {
			t.Fatalf("ApplyNotification(accept): %v", err)
		}
		got := reloadOrder(t, order.ID)
		if got.Status != models.OrderStatusPaid {
			t.Fatalf("status after accept = %s, want paid", got.Status)
		}
		if n := countAccess(t, order.ID); n != int64(len(items)) {
			t.Fatalf("access rows after accept = %d, want %d", n, len(items))
		}
	})

	t.Run("expire fails the order without provisioning", func(t *testing.T) {
		order := newOrder(t)

		expired := payment.Notification{OrderId: order.ID, TransactionStatus: "expire"}
		if err := rec.ApplyNotification(ctx, expired); err != nil {
			t.Fatalf("ApplyNotification(expire): %v", err)
		}
		if got := reloadOrder(t, order.ID); got.Status != models.OrderStatusFailed {
			t.Fatalf("status = %s, want failed", got.Status)
		}
		if n := countAccess(t, order.ID); n != 0 {
			t.Fatalf("access rows = %d, want 0", n)
		}
	})

	t.Run("unknown order id is an error", func(t *testing.T) {
		n := settlement("99999999-9999-9999-9999-999999999999")
		if err := rec.ApplyNotification(ctx, n); err == nil {
			t.Fatalf("expected error for unknown order id")
		}
	})

	t.Run("cancel is owner-scoped and pending-only", func(t *testing.T) {
		order := newOrder(t)

		if err := models.CancelPendingOrder(db, ctx, "someone-else", order.ID); err != models.ErrOrderNotCancellable {
			t.Fatalf("cancel by non-owner: err = %v, want ErrOrderNotCancellable", err)
		}
		if err := models.CancelPendingOrder(db, ctx, userId, order.ID); err != nil {
			t.Fatalf("CancelPendingOrder: %v", err)
		}
		if got := reloadOrder(t, order.ID); got.Status != models.OrderStatusCancelled {
			t.Fatalf("status = %s, want cancelled", got.Status)
		}
		if err := models.CancelPendingOrder(db, ctx, userId, order.ID); err != models.ErrOrderNotCancellable {
			t.Fatalf("second cancel: err = %v, want ErrOrderNotCancellable", err)
		}
	})
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("storefront-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("storefront-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=storefront_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
