//go:build integration

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/txrules/internal/config"
	"github.com/liamcoop/txrules/rules"
)

// setupTestDB creates a PostgreSQL testcontainer, runs migrations and returns its URL
func setupTestDB(t *testing.T) (string, *sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}
	return connStr, db, cleanup
}

// TestEndToEnd_CreateAndEvaluateRule runs the fully wired service against PostgreSQL:
// a rule pointing at a deleted category is skipped with a fault.
func TestEndToEnd_CreateAndEvaluateRule(t *testing.T) {
	url, db, cleanup := setupTestDB(t)
	defer cleanup()

	var categoryID int64
	if err := db.QueryRow(`INSERT INTO categories (user_id, name) VALUES (1, 'Groceries') RETURNING id`).Scan(&categoryID); err != nil {
		t.Fatalf("Failed to insert category: %v", err)
	}

	cfg := config.Default()
	cfg.DatabaseURL = url
	cfg.JWTSecret = testSecret
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp() failed: %v", err)
	}
	defer a.Close()
	ts := &testServer{server: a.server, engine: a.engine}
	tok := token(t, 1, false)

	if code := ts.do(t, http.MethodGet, "/api/v1/health", "", nil, nil); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}

	missing := `{"name":"bad","condition":{"operator":"amount_gt","value":1},"action":{"type":"set_category","category_id":987654}}`
	var invalid rules.ValidationResult
	if code := ts.do(t, http.MethodPost, "/api/v1/rules", tok, missing, &invalid); code != http.StatusBadRequest {
		t.Fatalf("unknown category status = %d, want 400", code)
	}

	body := fmt.Sprintf(`{"name":"Groceries","condition":{"operator":"merchant_contains","value":"whole foods"},"action":{"type":"set_category","category_id":%d},"priority":10}`, categoryID)
	var created rules.Rule
	if code := ts.do(t, http.MethodPost, "/api/v1/rules", tok, body, &created); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}

	evalBody := `{"transaction":{"description":"Whole Foods Market","amount":"54.30","transaction_date":"2024-03-15"}}`
	var res rules.EvaluationResult
	ts.do(t, http.MethodPost, "/api/v1/evaluate", tok, evalBody, &res)
	if res.Transaction.CategoryID == nil || *res.Transaction.CategoryID != categoryID {
		t.Fatalf("category = %v, want %d", res.Transaction.CategoryID, categoryID)
	}

	if _, err := db.Exec(`DELETE FROM categories WHERE id = $1`, categoryID); err != nil {
		t.Fatalf("Failed to delete category: %v", err)
	}
	res = rules.EvaluationResult{}
	ts.do(t, http.MethodPost, "/api/v1/evaluate", tok, evalBody, &res)
	if len(res.Trace) != 0 || len(res.Faults) != 1 || res.Faults[0].Code != rules.FaultCategoryMissing {
		t.Errorf("after category delete: trace = %+v, faults = %+v", res.Trace, res.Faults)
	}
}
