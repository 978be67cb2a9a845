package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type ledgerRow struct {
	ID   int
	Note string
}

func openMemory(t *testing.T) *Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&ledgerRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewFromConn(conn)
}

func countRows(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	if err := c.DB().Model(&ledgerRow{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTxCommitsOnlyOnSuccess(t *testing.T) {
	c := openMemory(t)
	ctx := context.Background()

	if err := c.WithTx(ctx, func(tx *gorm.DB) error { return tx.Create(&ledgerRow{Note: "kept"}).Error }); err != nil {
		t.Fatalf("commit: %v", err)
	}
	boom := errors.New("boom")
	err := c.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&ledgerRow{Note: "dropped"}).Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}
	if n := countRows(t, c); n != 1 {
		t.Fatalf("expected 1 row after rollback, got %d", n)
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	c := openMemory(t)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic was swallowed")
			}
		}()
		_ = c.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&ledgerRow{Note: "half"})
			panic("mid-transaction")
		})
	}()
	if n := countRows(t, c); n != 0 {
		t.Fatalf("expected panic to roll back, got %d rows", n)
	}
}

func TestPing(t *testing.T) {
	if err := openMemory(t).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestDialectorFor(t *testing.T) {
	if _, err := dialectorFor(config.DBConfig{Driver: "mysql", DSN: "x"}); err == nil {
		t.Fatalf("mysql accepted")
	}
	for driver, want := range map[string]string{"": "postgres", "Postgres": "postgres", "sqlite": "sqlite"} {
		d, err := dialectorFor(config.DBConfig{Driver: driver, DSN: "file::memory:"})
		if err != nil || d.Name() != want {
			t.Fatalf("driver %q: got %v %v", driver, d, err)
		}
	}
}

func TestQueryLoggerReportsSlowAndFailedQueries(t *testing.T) {
	buf := &bytes.Buffer{}
	ql := newQueryLogger(logger.New(logger.Options{Output: buf}), 10*time.Millisecond)
	stmt := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	ql.Trace(ctx, time.Now(), stmt, nil)
	ql.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("fast or not-found queries should be quiet: %s", buf.String())
	}

	ql.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	if !strings.Contains(buf.String(), "slow query") {
		t.Fatalf("slow query not logged: %s", buf.String())
	}
	buf.Reset()
	ql.Trace(ctx, time.Now(), stmt, errors.New("deadlock detected"))
	if !strings.Contains(buf.String(), "deadlock detected") {
		t.Fatalf("failed query not logged: %s", buf.String())
	}
}
