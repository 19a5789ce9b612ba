package logging

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

// NewGormLogger forwards gorm output into l. SQL traces are only emitted when l
// is at debug level; otherwise gorm warnings, errors and slow queries are kept.
func NewGormLogger(l *logrus.Logger, slowThreshold time.Duration) gormlogger.Interface {
	lvl := gormlogger.Warn
	if l.IsLevelEnabled(logrus.DebugLevel) {
		lvl = gormlogger.Info
	}
	return &gormLogrus{log: l, level: lvl, slow: slowThreshold}
}

type gormLogrus struct {
	log   *logrus.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func (g *gormLogrus) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	ng := *g
	ng.level = level
	return &ng
}

func (g *gormLogrus) entry(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		ctx = context.Background()
	}
	return g.log.WithContext(ctx).WithField("module", "gorm")
}

func (g *gormLogrus) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Info {
		g.entry(ctx).Infof(msg, data...)
	}
}

func (g *gormLogrus) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.entry(ctx).Warnf(msg, data...)
	}
}

func (g *gormLogrus) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Error {
		g.entry(ctx).Errorf(msg, data...)
	}
}

func (g *gormLogrus) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	fields := func() logrus.Fields {
		sql, rows := fc()
		return logrus.Fields{
			"duration_ms": float64(elapsed.Nanoseconds()) / 1e6,
			"rows":        rows,
			"sql":         sql,
		}
	}

	switch {
	// Not-found is routine for FindOrCreate lookups.
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound):
		g.entry(ctx).WithFields(fields()).WithError(err).Error("query failed")
	case g.slow > 0 && elapsed > g.slow && g.level >= gormlogger.Warn:
		g.entry(ctx).WithFields(fields()).
			WithField("slow", true).
			WithField("threshold_ms", float64(g.slow.Nanoseconds())/1e6).
			Warn("slow query")
	case g.level == gormlogger.Info:
		g.entry(ctx).WithFields(fields()).Debug("query")
	}
}
