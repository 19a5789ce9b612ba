package backend

import (
	"time"

	"github.com/TiredShaman/assessmatefinal/internal/monitoring"
)

const defaultAuditLogTTL = 90 * 24 * time.Hour

// startAuditLogCleanup launches a periodic cleanup of the AuditLog table based on TTL.
func (s *Server) startAuditLogCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	s.log.WithField("ttl", s.auditLogTTL().String()).WithField("interval", interval.String()).Info("audit: starting cleanup worker")
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			s.pruneAuditLogs(time.Now())
			select {
			case <-s.stop:
				return
			case <-t.C:
			}
		}
	}()
}

func (s *Server) auditLogTTL() time.Duration {
	if s.cfg.AuditLogTTL > 0 {
		return s.cfg.AuditLogTTL
	}
	return defaultAuditLogTTL
}

func (s *Server) pruneAuditLogs(now time.Time) int64 {
	before := now.Add(-s.auditLogTTL())
	deleted, err := s.store.PruneAuditLogs(before)
	if err != nil {
		s.log.WithError(err).Warn("audit: cleanup failed")
		return 0
	}
	if deleted > 0 {
		monitoring.AuditPruned.Add(float64(deleted))
		s.log.WithField("deleted", deleted).Infof("audit: cleaned up old entries (older than %s)", before.Format(time.RFC3339))
	}
	return deleted
}
