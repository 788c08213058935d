package service

import (
	"log"
	"time"

	"collab-sync-server/internal/domain"
)

// MarkIdleAway transitions online participants with no activity inside
// the idle window to away. Busy stays busy: only an explicit status
// change or leave clears it.
func (s *SessionService) MarkIdleAway(idleTimeout time.Duration) {
	sessions, err := s.sessionRepo.ListActive()
	if err != nil {
		log.Printf("[Presence] failed to list active sessions: %v", err)
		return
	}

	cutoff := time.Now().Add(-idleTimeout)
	for _, session := range sessions {
		s.markSessionIdleAway(session.ID, cutoff)
	}
}

func (s *SessionService) markSessionIdleAway(sessionID string, cutoff time.Time) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return
	}

	changed := false
	for i := range session.Participants {
		p := &session.Participants[i]
		if p.Status == domain.StatusOnline && p.LastSeenAt.Before(cutoff) {
			p.Status = domain.StatusAway
			p.UpdateSeq++
			changed = true
		}
	}

	if !changed {
		return
	}

	session.UpdatedAt = time.Now()
	if err := s.sessionRepo.Update(session); err != nil {
		log.Printf("[Presence] failed to mark participants away in session %s: %v", sessionID, err)
		return
	}

	s.publishRoster(session, "")
}

// DeactivateStale closes active sessions whose participants have all
// been offline past the retention window. The records stay durable;
// archival of very old operation logs is an operator concern.
func (s *SessionService) DeactivateStale(retention time.Duration) {
	sessions, err := s.sessionRepo.ListActive()
	if err != nil {
		log.Printf("[Presence] failed to list active sessions: %v", err)
		return
	}

	cutoff := time.Now().Add(-retention)
	for _, session := range sessions {
		allOffline := len(session.Participants) > 0
		for _, p := range session.Participants {
			if p.Status != domain.StatusOffline || p.LastSeenAt.After(cutoff) {
				allOffline = false
				break
			}
		}
		if !allOffline {
			continue
		}

		if err := s.Close(session.CreatedBy, session.ID); err != nil {
			log.Printf("[Presence] failed to deactivate stale session %s: %v", session.ID, err)
		}
	}
}

// PresenceSweeper drives the idle and retention transitions on a timer.
type PresenceSweeper struct {
	sessions    *SessionService
	interval    time.Duration
	idleTimeout time.Duration
	retention   time.Duration
	done        chan struct{}
}

func NewPresenceSweeper(sessions *SessionService, interval, idleTimeout, retention time.Duration) *PresenceSweeper {
	return &PresenceSweeper{
		sessions:    sessions,
		interval:    interval,
		idleTimeout: idleTimeout,
		retention:   retention,
		done:        make(chan struct{}),
	}
}

func (w *PresenceSweeper) Run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sessions.MarkIdleAway(w.idleTimeout)
			w.sessions.DeactivateStale(w.retention)
		case <-w.done:
			return
		}
	}
}

func (w *PresenceSweeper) Stop() {
	close(w.done)
}
