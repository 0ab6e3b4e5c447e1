package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-session-service/internal/cache"
	"github.com/iliyamo/auth-session-service/internal/metrics"
	"github.com/iliyamo/auth-session-service/internal/model"
)

// RefreshVerifier validates refresh tokens.  *TokenService implements it.
type RefreshVerifier interface {
	VerifyRefreshToken(raw string) (*Claims, error)
	HashToken(raw string) string
}

// SessionService keeps one record per login in the session store under
// session:{user_id}:{sha256(refresh_token)}.  Records expire with the
// refresh token.
type SessionService struct {
	store  cache.Store
	tokens RefreshVerifier
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time
}

func NewSessionService(store cache.Store, tokens RefreshVerifier, ttl time.Duration, log *zap.Logger) *SessionService {
	return &SessionService{
		store:  store,
		tokens: tokens,
		ttl:    ttl,
		log:    log.With(zap.String("component", "session")),
		now:    time.Now,
	}
}

// SessionKey builds the store key of the session bound to refresh.
func SessionKey(userID uint64, refreshHash string) string {
	return fmt.Sprintf("session:%d:%s", userID, refreshHash)
}

func sessionPattern(userID uint64) string {
	return fmt.Sprintf("session:%d:*", userID)
}

// SetSession records a new login.
func (s *SessionService) SetSession(ctx context.Context, userID uint64, refresh, ip, userAgent string) error {
	rec := model.Session{
		UserID:       userID,
		RefreshToken: refresh,
		IPAddress:    ip,
		UserAgent:    userAgent,
		LoginTime:    s.now().UTC().Format(model.LoginTimeLayout),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	err = s.store.Set(ctx, SessionKey(userID, s.tokens.HashToken(refresh)), payload, s.ttl)
	metrics.SessionOperationsTotal.WithLabelValues("set", metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	s.log.Info("session created", zap.Uint64("user_id", userID), zap.String("ip", ip), zap.String("user_agent", userAgent))
	return nil
}

// GetOneSession returns the record bound to refresh.  The token is verified
// first, so a bad token fails with Unauthorized; a valid token whose record
// is gone yields (nil, nil).
func (s *SessionService) GetOneSession(ctx context.Context, refresh string) (*model.Session, error) {
	claims, err := s.tokens.VerifyRefreshToken(refresh)
	if err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, SessionKey(claims.ID, s.tokens.HashToken(refresh)))
	metrics.SessionOperationsTotal.WithLabelValues("get", metrics.Status(ignoreMiss(err))).Inc()
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var rec model.Session
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &rec, nil
}

// GetAllSessions lists the live sessions of userID, newest login first.
func (s *SessionService) GetAllSessions(ctx context.Context, userID uint64) ([]model.Session, error) {
	raws, err := s.store.GetAll(ctx, sessionPattern(userID))
	metrics.SessionOperationsTotal.WithLabelValues("get_all", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.Session, 0, len(raws))
	for _, raw := range raws {
		var rec model.Session
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.log.Warn("skipping undecodable session", zap.Uint64("user_id", userID), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LoginTime > out[j].LoginTime })
	return out, nil
}

// DelSession removes the record bound to refresh.  Removing a record that is
// already gone succeeds.
func (s *SessionService) DelSession(ctx context.Context, refresh string) error {
	claims, err := s.tokens.VerifyRefreshToken(refresh)
	if err != nil {
		return err
	}
	err = s.store.Del(ctx, SessionKey(claims.ID, s.tokens.HashToken(refresh)))
	metrics.SessionOperationsTotal.WithLabelValues("del", metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.log.Info("session deleted", zap.Uint64("user_id", claims.ID))
	return nil
}

// DelAllSessions removes every session of userID.  Keys are rebuilt from the
// refresh token stored in each record.
func (s *SessionService) DelAllSessions(ctx context.Context, userID uint64) (int, error) {
	sessions, err := s.GetAllSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range sessions {
		err := s.store.Del(ctx, SessionKey(userID, s.tokens.HashToken(rec.RefreshToken)))
		metrics.SessionOperationsTotal.WithLabelValues("del", metrics.Status(err)).Inc()
		if err != nil {
			return n, fmt.Errorf("delete session: %w", err)
		}
		n++
	}
	s.log.Info("sessions revoked", zap.Uint64("user_id", userID), zap.Int("count", n))
	return n, nil
}

func ignoreMiss(err error) error {
	if errors.Is(err, cache.ErrMiss) {
		return nil
	}
	return err
}
