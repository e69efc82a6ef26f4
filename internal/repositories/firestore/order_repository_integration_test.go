//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/oakmart/api/internal/domain"
	pconfig "github.com/oakmart/api/internal/platform/config"
	pfirestore "github.com/oakmart/api/internal/platform/firestore"
	"github.com/oakmart/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	stocks, err := NewStockRepository(provider)
	if err != nil {
		t.Fatalf("new stock repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seed := map[string]any{
		"productId": "prod_001",
		"onHand":    5,
		"updatedAt": now,
	}
	if _, err := client.Collection(stocksCollection).Doc("prod_001").Set(ctx, seed); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	order := domain.Order{
		ID:       "ord_test_1",
		UserID:   "u_test",
		Email:    "shopper@example.com",
		Currency: "USD",
		Items: []domain.OrderItem{
			{ProductID: "prod_001", Name: "Walnut board", Quantity: 3, UnitPriceAtPurchase: 2500, LineTotal: 7500},
		},
		TotalAmount: 7500,
	}

	created, err := orders.CreateWithReservation(ctx, repositories.OrderCreateRequest{
		Order: order,
		Lines: []repositories.StockLine{{ProductID: "prod_001", Quantity: 3}},
		Now:   now,
	})
	if err != nil {
		t.Fatalf("create with reservation: %v", err)
	}
	if created.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", created.Status)
	}

	record, err := stocks.Get(ctx, "prod_001")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if record.OnHand != 2 {
		t.Fatalf("expected onHand=2 after reservation, got %d", record.OnHand)
	}

	var orderErr *repositories.OrderError
	_, err = orders.CreateWithReservation(ctx, repositories.OrderCreateRequest{
		Order: order,
		Lines: []repositories.StockLine{{ProductID: "prod_001", Quantity: 1}},
		Now:   now.Add(time.Second),
	})
	if err == nil {
		t.Fatalf("expected duplicate order error")
	}
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorConflict {
		t.Fatalf("expected order conflict, got %v", err)
	}

	var stockErr *repositories.StockError
	shortage := order
	shortage.ID = "ord_test_2"
	_, err = orders.CreateWithReservation(ctx, repositories.OrderCreateRequest{
		Order: shortage,
		Lines: []repositories.StockLine{{ProductID: "prod_001", Quantity: 3}},
		Now:   now,
	})
	if err == nil {
		t.Fatalf("expected insufficient stock error")
	}
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
		t.Fatalf("expected insufficient stock code, got %v", err)
	}

	// A failed creation must not consume stock.
	record, err = stocks.Get(ctx, "prod_001")
	if err != nil {
		t.Fatalf("get stock after failure: %v", err)
	}
	if record.OnHand != 2 {
		t.Fatalf("expected onHand unchanged at 2, got %d", record.OnHand)
	}

	canceled, err := orders.CancelWithRelease(ctx, repositories.OrderCancelRequest{
		OrderID: "ord_test_1",
		Reason:  "changed my mind",
		Now:     now.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("cancel with release: %v", err)
	}
	if canceled.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled status, got %s", canceled.Status)
	}
	if canceled.CancelReason == nil || *canceled.CancelReason != "changed my mind" {
		t.Fatalf("expected cancel reason to persist, got %+v", canceled.CancelReason)
	}

	record, err = stocks.Get(ctx, "prod_001")
	if err != nil {
		t.Fatalf("get stock after cancel: %v", err)
	}
	if record.OnHand != 5 {
		t.Fatalf("expected onHand restored to 5, got %d", record.OnHand)
	}

	orderErr = nil
	_, err = orders.CancelWithRelease(ctx, repositories.OrderCancelRequest{
		OrderID: "ord_test_1",
		Now:     now.Add(3 * time.Minute),
	})
	if err == nil {
		t.Fatalf("expected invalid state error on second cancel")
	}
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorInvalidState {
		t.Fatalf("expected invalid state code, got %v", err)
	}

	fetched, err := orders.FindByID(ctx, "ord_test_1")
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if fetched.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled order, got %s", fetched.Status)
	}

	page, err := orders.List(ctx, repositories.OrderListFilter{UserID: "u_test"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(page.Items))
	}

	report, err := orders.Revenue(ctx, repositories.RevenueQuery{
		Statuses: []domain.OrderStatus{domain.OrderStatusCanceled},
	})
	if err != nil {
		t.Fatalf("revenue: %v", err)
	}
	if report.OrderCount != 1 || report.Total != 7500 {
		t.Fatalf("unexpected revenue report: %+v", report)
	}
}

func TestOrderRepositoryConcurrentReservation(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "orders-concurrent-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	stocks, err := NewStockRepository(provider)
	if err != nil {
		t.Fatalf("new stock repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seed := map[string]any{
		"productId": "prod_race",
		"onHand":    5,
		"updatedAt": now,
	}
	if _, err := client.Collection(stocksCollection).Doc("prod_race").Set(ctx, seed); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	// Both orders want 3 units of a 5-unit product. The transaction must let
	// exactly one through and never drive on-hand below zero.
	results := make([]error, 2)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order := domain.Order{
				ID:       fmt.Sprintf("ord_race_%d", i),
				Email:    "shopper@example.com",
				Currency: "USD",
				Items: []domain.OrderItem{
					{ProductID: "prod_race", Name: "Walnut board", Quantity: 3, UnitPriceAtPurchase: 2500, LineTotal: 7500},
				},
				TotalAmount: 7500,
			}
			<-start
			_, err := orders.CreateWithReservation(ctx, repositories.OrderCreateRequest{
				Order: order,
				Lines: []repositories.StockLine{{ProductID: "prod_race", Quantity: 3}},
				Now:   now,
			})
			results[i] = err
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for i, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
			t.Fatalf("order %d: expected insufficient stock error, got %v", i, err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one reservation to succeed, got %d", succeeded)
	}

	record, err := stocks.Get(ctx, "prod_race")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if record.OnHand != 2 {
		t.Fatalf("expected onHand=2 after single reservation, got %d", record.OnHand)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
