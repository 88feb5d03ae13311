package config

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"
)

func captureLogs(t *testing.T, level zerolog.Level) *bytes.Buffer {
	t.Helper()
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(level)
	return &buf
}

func TestGormLoggerLevels(t *testing.T) {
	buf := captureLogs(t, zerolog.InfoLevel)
	l := GormLogger()
	ctx := context.Background()
	stmt := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(ctx, time.Now(), stmt, nil)
	if buf.Len() != 0 {
		t.Fatalf("fast queries should stay quiet at info, got %s", buf.String())
	}

	l.Trace(ctx, time.Now().Add(-2*time.Second), stmt, nil)
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), "SELECT 1") {
		t.Fatalf("slow query should be logged at warn, got %s", buf.String())
	}

	buf.Reset()
	l.Trace(ctx, time.Now(), stmt, errors.New("table missing"))
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("failed query should be logged at error, got %s", buf.String())
	}

	buf.Reset()
	l.Trace(ctx, time.Now(), stmt, gormlogger.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("record not found is not an error, got %s", buf.String())
	}

	buf.Reset()
	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now().Add(-2*time.Second), stmt, nil)
	if buf.Len() != 0 {
		t.Fatalf("silent mode should log nothing, got %s", buf.String())
	}
}
