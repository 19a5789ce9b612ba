package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/TiredShaman/assessmatefinal/internal/logging"
)

// Roles a user may pick on the role selection page.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

var (
	ErrInvalidRole    = errors.New("invalid role")
	ErrRoleAlreadySet = errors.New("role already set")
)

// ValidRole reports whether role is one of the selectable roles.
func ValidRole(role string) bool {
	return role == RoleStudent || role == RoleTeacher
}

// User is an AssessMate account linked to one external identity.
type User struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Provider   string `gorm:"uniqueIndex:idx_provider_identity" json:"provider"`
	ProviderID string `gorm:"uniqueIndex:idx_provider_identity" json:"provider_id"`
	Email      string `gorm:"index" json:"email"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url"`

	// Role is empty until the user picks one.
	Role string `gorm:"index" json:"role"`
}

// NeedsRoleSelection reports whether the user still has to pick a role.
func (u *User) NeedsRoleSelection() bool { return u.Role == "" }

// Username is the handle shown by the frontend.
func (u *User) Username() string {
	if i := strings.IndexByte(u.Email, '@'); i > 0 {
		return u.Email[:i]
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

// AuditLog records authentication events. Detail holds the error code of a failed
// login or the chosen role. Token values are never stored.
type AuditLog struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"ts"`
	UserID    string    `gorm:"type:char(36);index" json:"user_id"`
	Provider  string    `gorm:"index" json:"provider"`
	Event     string    `gorm:"index" json:"event"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail"`
	RequestID string    `json:"request_id"`
}

type Setting struct {
	Key       string `gorm:"primaryKey" json:"key"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Value string `json:"value"`
}

type Store struct {
	DB *gorm.DB
}

// Open initializes the database and runs auto-migrations. Postgres is used when the
// DSN looks like a Postgres URL or key/value DSN, SQLite otherwise.
func Open(dsn string) (*Store, error) {
	log := logging.L()
	cfg := &gorm.Config{Logger: logging.NewGormLogger(log, 100*time.Millisecond)}

	isPg := isPostgresDSN(dsn)
	var dialector gorm.Dialector
	if isPg {
		log.Info("opening PostgreSQL database")
		dialector = postgres.Open(dsn)
	} else {
		log.WithField("path", dsn).Info("opening SQLite database")
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if !isPg {
		// single writer for SQLite
		sqlDB.SetMaxOpenConns(1)
	}

	if err = db.AutoMigrate(&User{}, &AuditLog{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	log.Debug("database migrated")

	return &Store{DB: db}, nil
}

func isPostgresDSN(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		return true
	}
	return strings.Contains(s, "host=") || strings.Contains(s, "user=") || strings.Contains(s, "dbname=")
}

// NewUUID generates a new UUID v4.
func NewUUID() string {
	return uuid.New().String()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.WithContext(ctx).Exec("select 1").Error
}

func (s *Store) GetJWTSecret() (string, error) {
	var sett Setting
	if err := s.DB.First(&sett, "key = ?", "jwt_secret").Error; err != nil {
		return "", err
	}
	return sett.Value, nil
}

func (s *Store) SaveJWTSecret(secret string) error {
	return s.DB.Save(&Setting{Key: "jwt_secret", Value: secret}).Error
}

// FindOrCreateUser returns the user for the external identity, creating it on first
// login. Profile fields of an existing user are refreshed when the provider sends them.
func (s *Store) FindOrCreateUser(ctx context.Context, provider, providerID, email, name, avatar string) (*User, error) {
	if provider == "" || providerID == "" {
		return nil, fmt.Errorf("provider and providerID required")
	}
	db := s.DB.WithContext(ctx)
	u := &User{}
	res := db.Where("provider = ? AND provider_id = ?", provider, providerID).First(u)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		u = &User{
			ID:         NewUUID(),
			Provider:   provider,
			ProviderID: providerID,
			Email:      email,
			Name:       name,
			AvatarURL:  avatar,
		}
		if err := db.Create(u).Error; err != nil {
			return nil, err
		}
		return u, nil
	}
	if res.Error != nil {
		return nil, res.Error
	}

	changed := *u
	if email != "" {
		changed.Email = email
	}
	if name != "" {
		changed.Name = name
	}
	if avatar != "" {
		changed.AvatarURL = avatar
	}
	if changed.Email != u.Email || changed.Name != u.Name || changed.AvatarURL != u.AvatarURL {
		err := db.Model(&User{}).Where("id = ?", u.ID).Updates(map[string]any{
			"email":      changed.Email,
			"name":       changed.Name,
			"avatar_url": changed.AvatarURL,
		}).Error
		if err != nil {
			return nil, err
		}
	}
	return &changed, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.DB.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetUserRole assigns the role once. A second call fails with ErrRoleAlreadySet.
func (s *Store) SetUserRole(ctx context.Context, id, role string) (*User, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}
	res := s.DB.WithContext(ctx).Model(&User{}).
		Where("id = ? AND (role = '' OR role IS NULL)", id).
		Update("role", role)
	if res.Error != nil {
		return nil, res.Error
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return u, ErrRoleAlreadySet
	}
	return u, nil
}

// RecordAuthEvent appends an audit entry.
func (s *Store) RecordAuthEvent(ctx context.Context, entry AuditLog) error {
	if entry.ID == "" {
		entry.ID = NewUUID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.DB.WithContext(ctx).Create(&entry).Error
}

func (s *Store) GetUserAuditLogs(ctx context.Context, userID string, limit int) ([]AuditLog, error) {
	var logs []AuditLog
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (s *Store) PruneAuditLogs(before time.Time) (int64, error) {
	res := s.DB.Where("timestamp < ?", before).Delete(&AuditLog{})
	return res.RowsAffected, res.Error
}
