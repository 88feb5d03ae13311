package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hotel-channel-sync/config"
	"hotel-channel-sync/models"
)

var dbSeq atomic.Int64

// newTestDB opens a private in-memory SQLite database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := config.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func mustCreateUnit(t *testing.T, db *gorm.DB, id uint) models.Unit {
	t.Helper()
	u := models.Unit{Code: fmt.Sprintf("U-%d", id), Name: fmt.Sprintf("Unit %d", id), Active: true}
	u.ID = id
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create unit %d: %v", id, err)
	}
	return u
}

func mustCreateBooking(t *testing.T, db *gorm.DB, id, unitID uint, from, to, status string) models.Booking {
	t.Helper()
	b := models.Booking{ID: id, UnitID: unitID, CheckIn: day(from), CheckOut: day(to), Status: status}
	if err := db.Create(&b).Error; err != nil {
		t.Fatalf("create booking %d: %v", id, err)
	}
	return b
}

func countLocks(t *testing.T, db *gorm.DB, where string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.UnitLock{}).Where(where, args...).Count(&n).Error; err != nil {
		t.Fatalf("count locks: %v", err)
	}
	return n
}

type recordingPusher struct {
	mu   sync.Mutex
	reqs []UpdateRequest
}

func (p *recordingPusher) PushUpdate(req UpdateRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
}

func (p *recordingPusher) all() []UpdateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]UpdateRequest(nil), p.reqs...)
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) LogChange(_ context.Context, _ *uint, entityType string, entityID uint, action string, _, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, fmt.Sprintf("%s:%d:%s", entityType, entityID, action))
	return nil
}

func (a *recordingAudit) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}
