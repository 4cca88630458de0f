// Package gormstore implements identity.Store on PostgreSQL through gorm.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vitalvas/fedsig/identity"
)

var errDBUnavailable = errors.New("gormstore: database unavailable")

// IdentityModel is the row layout of the remote_identities table.
type IdentityModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	URI          string `gorm:"column:uri;uniqueIndex;not null"`
	Username     string `gorm:"not null;default:''"`
	Domain       string `gorm:"index;not null;default:''"`
	KeyID        string `gorm:"column:key_id;index"`
	PublicKeyPEM string `gorm:"column:public_key_pem;type:text"`
	Protocol     string `gorm:"not null;default:''"`
	Local        bool   `gorm:"not null;default:false"`
	Stale        bool   `gorm:"not null;default:false"`
	RefreshedAt  *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (IdentityModel) TableName() string {
	return "remote_identities"
}

// Store is an identity.Store backed by gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects to PostgreSQL using dsn and migrates the identity table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).AutoMigrate(&IdentityModel{}); err != nil {
		return nil, err
	}

	return New(db), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return errDBUnavailable
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func (s *Store) FindByKeyID(ctx context.Context, keyID string) (*identity.Identity, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}

	ident, err := s.take(ctx, "key_id = ?", keyID)
	if err != nil || ident != nil {
		return ident, err
	}

	return s.take(ctx, "uri = ?", identity.StripFragment(keyID))
}

func (s *Store) FindByURI(ctx context.Context, uri string) (*identity.Identity, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}

	return s.take(ctx, "uri = ?", uri)
}

func (s *Store) FindByHandle(ctx context.Context, username, domain string) (*identity.Identity, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}

	if username == "" || domain == "" {
		return nil, nil
	}

	return s.take(ctx, "LOWER(username) = LOWER(?) AND LOWER(domain) = LOWER(?)", username, domain)
}

// Save upserts on uri. The whole key record is written in one statement so
// readers never see a key id paired with another key's PEM.
func (s *Store) Save(ctx context.Context, ident *identity.Identity) (*identity.Identity, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}

	if ident == nil || ident.URI == "" {
		return nil, errors.New("gormstore: uri is required")
	}

	model := toModel(ident)
	now := s.now().UTC()
	model.UpdatedAt = now

	if model.ID == "" {
		model.ID = uuid.NewString()
	}

	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}

	var stored IdentityModel

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "uri"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "domain", "key_id", "public_key_pem",
				"protocol", "local", "stale", "refreshed_at", "updated_at",
			}),
		}).Create(&model).Error
		if err != nil {
			return err
		}

		return tx.Where("uri = ?", model.URI).Take(&stored).Error
	})
	if err != nil {
		return nil, err
	}

	return fromModel(stored), nil
}

func (s *Store) take(ctx context.Context, query string, args ...any) (*identity.Identity, error) {
	var model IdentityModel

	err := lookup(s.db.WithContext(ctx), query, args...).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return fromModel(model), nil
}

// lookup filters rows and picks the most recently written one when
// several match, so key id lookups stay deterministic.
func lookup(db *gorm.DB, query string, args ...any) *gorm.DB {
	return db.Where(query, args...).Order("updated_at DESC")
}

func toModel(ident *identity.Identity) IdentityModel {
	model := IdentityModel{
		ID:           ident.ID,
		URI:          ident.URI,
		Username:     ident.Username,
		Domain:       ident.Domain,
		KeyID:        ident.KeyID,
		PublicKeyPEM: ident.PublicKeyPEM,
		Protocol:     ident.Protocol,
		Local:        ident.Local,
		Stale:        ident.Stale,
		CreatedAt:    ident.CreatedAt,
	}

	if !ident.RefreshedAt.IsZero() {
		refreshed := ident.RefreshedAt.UTC()
		model.RefreshedAt = &refreshed
	}

	return model
}

func fromModel(model IdentityModel) *identity.Identity {
	ident := &identity.Identity{
		ID:           model.ID,
		URI:          model.URI,
		Username:     model.Username,
		Domain:       model.Domain,
		KeyID:        model.KeyID,
		PublicKeyPEM: model.PublicKeyPEM,
		Protocol:     model.Protocol,
		Local:        model.Local,
		Stale:        model.Stale,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}

	if model.RefreshedAt != nil {
		ident.RefreshedAt = *model.RefreshedAt
	}

	return ident
}

var _ identity.Store = (*Store)(nil)
