package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/migration"
	"github.com/callsight/callsight-api/internal/models"
)

// testDB opens the database named by TEST_DATABASE_URL, runs migrations, and
// clears previous state. Tests that need Postgres skip when the variable is
// unset, so the suite stays runnable without one.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	migration.RunMigrations(dbURL, zerolog.New(os.Stderr))

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`TRUNCATE callsight.jobs, callsight.analysis_results,
		callsight.notifications, callsight.call_records, callsight.connections, callsight.tenants`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

func seedCall(t *testing.T, db *sql.DB) (tenantID, callID string) {
	t.Helper()

	err := db.QueryRow(`INSERT INTO callsight.tenants (name) VALUES ('acme') RETURNING id`).Scan(&tenantID)
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	var connID string
	err = db.QueryRow(`
		INSERT INTO callsight.connections (tenant_id, name, host, username, secret_ciphertext, webhook_token)
		VALUES ($1, 'main ucm', 'pbx.acme.example', 'cdrapi', $2, 'tok-test')
		RETURNING id
	`, tenantID, []byte("sealed")).Scan(&connID)
	if err != nil {
		t.Fatalf("seed connection: %v", err)
	}

	err = db.QueryRow(`
		INSERT INTO callsight.call_records (tenant_id, connection_id, external_session_id, started_at, ended_at)
		VALUES ($1, $2, '1728312345.118', now(), now())
		RETURNING id
	`, tenantID, connID).Scan(&callID)
	if err != nil {
		t.Fatalf("seed call record: %v", err)
	}
	return tenantID, callID
}

// forceDue backdates a retry job so ClaimNext sees it immediately.
func forceDue(t *testing.T, db *sql.DB, jobID string) {
	t.Helper()
	if _, err := db.Exec(`UPDATE callsight.jobs SET next_retry_at = now() - INTERVAL '1 second' WHERE id = $1`, jobID); err != nil {
		t.Fatalf("backdate retry: %v", err)
	}
}

func TestClaimOrderPriorityThenAge(t *testing.T) {
	db := testDB(t)
	repo := NewJobRepository(db)
	tenantID, callID := seedCall(t, db)
	ctx := context.Background()

	enqueue := func(priority int) models.Job {
		t.Helper()
		job, err := repo.Enqueue(ctx, tenantID, callID, models.JobTypeFullPipeline, priority)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		// Distinct created_at so the age tie-break is deterministic.
		time.Sleep(5 * time.Millisecond)
		return job
	}

	low := enqueue(0)
	high := enqueue(5)
	lowLater := enqueue(0)

	want := []string{high.ID, low.ID, lowLater.ID}
	for i, wantID := range want {
		job, ok, err := repo.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("claim %d: queue empty, want job %s", i, wantID)
		}
		if job.ID != wantID {
			t.Fatalf("claim %d = %s (priority %d), want %s", i, job.ID, job.Priority, wantID)
		}
		if job.Status != models.JobStatusProcessing || job.Attempts != 1 {
			t.Errorf("claim %d: status %s attempts %d, want processing/1", i, job.Status, job.Attempts)
		}
	}

	if _, ok, err := repo.ClaimNext(ctx); err != nil || ok {
		t.Fatalf("claim on drained queue = ok %v err %v, want no job", ok, err)
	}
}

func TestFailBacksOffThenGoesTerminal(t *testing.T) {
	db := testDB(t)
	repo := NewJobRepository(db)
	tenantID, callID := seedCall(t, db)
	ctx := context.Background()

	enqueued, err := repo.Enqueue(ctx, tenantID, callID, models.JobTypeFullPipeline, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueued.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("max_attempts = %d, want %d", enqueued.MaxAttempts, DefaultMaxAttempts)
	}

	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		job, ok, err := repo.ClaimNext(ctx)
		if err != nil || !ok {
			t.Fatalf("claim for attempt %d: ok %v err %v", attempt, ok, err)
		}
		if job.Attempts != attempt {
			t.Fatalf("attempts = %d, want %d", job.Attempts, attempt)
		}
		if err := repo.Fail(ctx, job.ID, "pbx unreachable"); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}

		failed, err := repo.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("get after fail %d: %v", attempt, err)
		}
		if failed.LastError == nil || *failed.LastError != "pbx unreachable" {
			t.Errorf("attempt %d: last_error = %v, want pbx unreachable", attempt, failed.LastError)
		}

		if attempt < DefaultMaxAttempts {
			if failed.Status != models.JobStatusRetry {
				t.Fatalf("attempt %d: status = %s, want retry", attempt, failed.Status)
			}
			if failed.NextRetryAt == nil {
				t.Fatalf("attempt %d: next_retry_at not set", attempt)
			}
			// Delay doubles per attempt: 30s, 60s, ...
			wantDelay := time.Duration(1<<(attempt-1)) * retryBackoffBase
			delay := time.Until(*failed.NextRetryAt)
			if delay < wantDelay-10*time.Second || delay > wantDelay+10*time.Second {
				t.Errorf("attempt %d: retry delay = %s, want about %s", attempt, delay, wantDelay)
			}
			// Not claimable until the backoff elapses.
			if _, ok, err := repo.ClaimNext(ctx); err != nil || ok {
				t.Fatalf("claimed a job still backing off (ok %v err %v)", ok, err)
			}
			forceDue(t, db, job.ID)
			continue
		}

		if failed.Status != models.JobStatusFailed {
			t.Fatalf("exhausted job status = %s, want failed", failed.Status)
		}
		if failed.NextRetryAt != nil {
			t.Errorf("terminal job keeps next_retry_at %v", failed.NextRetryAt)
		}
		if failed.CompletedAt == nil {
			t.Errorf("terminal job missing completed_at")
		}
	}

	if _, ok, err := repo.ClaimNext(ctx); err != nil || ok {
		t.Fatalf("terminal job was claimed again (ok %v err %v)", ok, err)
	}
	active, err := repo.HasActiveJob(ctx, callID)
	if err != nil || active {
		t.Errorf("HasActiveJob after terminal failure = %v err %v, want false", active, err)
	}
}
