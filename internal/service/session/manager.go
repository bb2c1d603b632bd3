// Package session реализует аутентификацию: выдачу пары access/refresh
// токенов, ротацию refresh-токена с обнаружением replay и stateless
// валидацию access-токена.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/authz"
)

// Config — параметры менеджера сессий.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenPair — результат успешного Login/Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Manager — операции над сессиями пользователей.
type Manager struct {
	users   domain.UserRepository
	tokens  domain.TokenRepository
	store   domain.Store
	cfg     Config
	logger  *log.Entry
	metrics *metrics.CommerceMetrics
	now     func() time.Time
}

// NewManager создаёт рабочий экземпляр менеджера сессий.
func NewManager(users domain.UserRepository, tokens domain.TokenRepository, store domain.Store, cfg Config, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.New().WithField("component", "session")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 720 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "pos"
	}
	return &Manager{
		users:   users,
		tokens:  tokens,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCommerceMetrics(),
		now:     time.Now,
	}
}

// NewManagerWithoutMetrics создаёт менеджер без метрик (для тестов).
func NewManagerWithoutMetrics(users domain.UserRepository, tokens domain.TokenRepository, store domain.Store, cfg Config, logger *log.Entry) *Manager {
	m := NewManager(users, tokens, store, cfg, logger)
	m.metrics = nil
	return m
}

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Family string `json:"fam"`
	jwt.RegisteredClaims
}

// Login проверяет пару логин/пароль и выдаёт новую пару токенов,
// начиная новое семейство refresh-токенов.
func (m *Manager) Login(ctx context.Context, username, password string) (TokenPair, error) {
	user, err := m.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// Не раскрываем, существует ли пользователь.
			if m.metrics != nil {
				m.metrics.RecordLoginFailed()
			}
			return TokenPair{}, domain.ErrInvalidCredentials
		}
		return TokenPair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if m.metrics != nil {
			m.metrics.RecordLoginFailed()
		}
		m.logger.WithField("username", username).Warn("login failed")
		return TokenPair{}, domain.ErrInvalidCredentials
	}

	familyID := uuid.NewString()
	pair, record, err := m.mintPair(user, familyID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := m.tokens.Create(ctx, record); err != nil {
		return TokenPair{}, err
	}

	m.logger.WithFields(log.Fields{
		"user_id": user.ID,
		"family":  familyID,
	}).Info("session started")

	return pair, nil
}

// Refresh ротирует refresh-токен: старый JTI атомарно помечается rotated,
// выдаётся новая пара. Предъявление уже использованного или отозванного JTI —
// replay: всё семейство отзывается, попытка фиксируется ACCESS-записью аудита.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := m.parseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	rec, err := m.tokens.Get(ctx, claims.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if rec.State != domain.TokenStateActive {
		return TokenPair{}, m.handleReplay(ctx, rec)
	}

	user, err := m.users.GetByID(ctx, rec.UserID)
	if err != nil {
		return TokenPair{}, err
	}

	pair, next, err := m.mintPair(user, rec.FamilyID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := m.tokens.Rotate(ctx, rec.JTI, next); err != nil {
		if domain.IsConflict(err) {
			// Проигранная гонка двух refresh — тот же replay.
			return TokenPair{}, m.handleReplay(ctx, rec)
		}
		return TokenPair{}, err
	}

	return pair, nil
}

// Logout отзывает предъявленный refresh-токен. Идемпотентна: повторный
// logout и уже истёкший токен — не ошибка.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	claims, err := m.parseRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			return nil
		}
		return err
	}

	if err := m.tokens.Revoke(ctx, claims.ID); err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// ValidateAccess выполняет stateless-проверку access-токена: подпись и срок
// действия, без обращения к хранилищу.
func (m *Manager) ValidateAccess(ctx context.Context, accessToken string) (domain.Session, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(t *jwt.Token) (any, error) {
		return m.cfg.AccessSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(m.cfg.Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Session{}, domain.ErrTokenExpired
		}
		return domain.Session{}, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	return domain.Session{
		UserID: claims.Subject,
		Role:   domain.Role(claims.Role),
	}, nil
}

// CreateUser регистрирует учётную запись. Только для admin.
func (m *Manager) CreateUser(ctx context.Context, session domain.Session, username, password string, role domain.Role) (domain.User, error) {
	if err := authz.Authorize(session, domain.CapUserManage); err != nil {
		return domain.User{}, err
	}
	return m.createUser(ctx, username, password, role, &session.UserID)
}

// BootstrapAdmin создаёт стартовую админскую учётную запись при запуске.
// Существующий пользователь с тем же именем — не ошибка.
func (m *Manager) BootstrapAdmin(ctx context.Context, username, password string) error {
	if _, err := m.users.GetByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}

	_, err := m.createUser(ctx, username, password, domain.RoleAdmin, nil)
	if domain.IsConflict(err) {
		return nil
	}
	return err
}

func (m *Manager) createUser(ctx context.Context, username, password string, role domain.Role, createdBy *string) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.users.Create(ctx, user); err != nil {
		return domain.User{}, err
	}

	if m.store != nil {
		err = m.store.WithinTx(ctx, func(tx domain.Tx) error {
			return tx.InsertAudit(domain.AuditRecord{
				ID:     uuid.NewString(),
				Entity: "user:" + user.ID,
				Action: domain.AuditActionCreate,
				UserID: createdBy,
				Changes: map[string]any{
					"username": username,
					"role":     string(role),
				},
				Timestamp: m.now().UTC(),
			})
		})
		if err != nil {
			return domain.User{}, err
		}
	}

	return user, nil
}

// handleReplay отзывает семейство скомпрометированного токена и фиксирует
// попытку в аудите. Всегда возвращает ErrTokenReuseDetected.
func (m *Manager) handleReplay(ctx context.Context, rec domain.RefreshTokenRecord) error {
	revoked, err := m.tokens.RevokeFamily(ctx, rec.FamilyID)
	if err != nil {
		m.logger.WithError(err).WithField("family", rec.FamilyID).Error("failed to revoke token family")
	}

	if m.store != nil {
		auditErr := m.store.WithinTx(ctx, func(tx domain.Tx) error {
			return tx.InsertAudit(domain.AuditRecord{
				ID:     uuid.NewString(),
				Entity: "user:" + rec.UserID,
				Action: domain.AuditActionAccess,
				UserID: &rec.UserID,
				Changes: map[string]any{
					"event":   "refresh_token_reuse",
					"jti":     rec.JTI,
					"family":  rec.FamilyID,
					"revoked": revoked,
				},
				Timestamp: m.now().UTC(),
			})
		})
		if auditErr != nil {
			m.logger.WithError(auditErr).Error("failed to audit token reuse")
		}
	}

	if m.metrics != nil {
		m.metrics.RecordTokenReuse()
	}
	m.logger.WithFields(log.Fields{
		"user_id": rec.UserID,
		"family":  rec.FamilyID,
		"revoked": revoked,
	}).Warn("refresh token reuse detected, family revoked")

	return domain.ErrTokenReuseDetected
}

func (m *Manager) mintPair(user domain.User, familyID string) (TokenPair, domain.RefreshTokenRecord, error) {
	now := m.now().UTC()
	accessExp := now.Add(m.cfg.AccessTTL)
	refreshExp := now.Add(m.cfg.RefreshTTL)
	jti := uuid.NewString()

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})
	accessToken, err := access.SignedString(m.cfg.AccessSecret)
	if err != nil {
		return TokenPair{}, domain.RefreshTokenRecord{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims{
		Family: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   user.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	})
	refreshToken, err := refresh.SignedString(m.cfg.RefreshSecret)
	if err != nil {
		return TokenPair{}, domain.RefreshTokenRecord{}, fmt.Errorf("sign refresh token: %w", err)
	}

	record := domain.RefreshTokenRecord{
		JTI:       jti,
		UserID:    user.ID,
		FamilyID:  familyID,
		State:     domain.TokenStateActive,
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, record, nil
}

func (m *Manager) parseRefresh(refreshToken string) (*refreshClaims, error) {
	var claims refreshClaims
	_, err := jwt.ParseWithClaims(refreshToken, &claims, func(t *jwt.Token) (any, error) {
		return m.cfg.RefreshSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(m.cfg.Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}
	if claims.ID == "" {
		return nil, domain.ErrTokenInvalid
	}
	return &claims, nil
}
