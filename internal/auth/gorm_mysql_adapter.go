package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// credentialRecord is the users table backing GormMySQLAdapter. The
// internal schema is explicitly out of scope per spec.md §1, so this model
// is an implementation choice, not a contract the core depends on.
type credentialRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;size:64"`
	PasswordHash string `gorm:"size:255"`
}

func (credentialRecord) TableName() string { return "users" }

// GormMySQLAdapter implements Adapter against a MySQL-backed credential
// store using gorm, the ORM the rest of the retrieved pack (nabbar-golib's
// database/gorm package) standardizes on. Unlike the original
// AuthServiceImpl, which decrypts both the stored and submitted hash with
// the same RSA key and compares plaintext, this adapter hashes with bcrypt:
// one-way and salted, so the stored value never needs to be reversible.
// That divergence is deliberate (spec.md §9, flagged design smell).
type GormMySQLAdapter struct {
	db *gorm.DB
}

// OpenGormMySQLAdapter opens a MySQL connection via dsn and ensures the
// backing table exists.
func OpenGormMySQLAdapter(dsn string) (*GormMySQLAdapter, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&credentialRecord{}); err != nil {
		return nil, err
	}
	return &GormMySQLAdapter{db: db}, nil
}

// NewGormMySQLAdapter wraps an already-open *gorm.DB, for callers that
// manage the connection lifecycle themselves (and for tests against an
// in-memory dialector).
func NewGormMySQLAdapter(db *gorm.DB) *GormMySQLAdapter {
	return &GormMySQLAdapter{db: db}
}

// Login implements Adapter.
func (a *GormMySQLAdapter) Login(ctx context.Context, name string, credential []byte) (bool, string) {
	var rec credentialRecord
	err := a.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "unknown user"
	}
	if err != nil {
		return false, "credential store error: " + err.Error()
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), credential) != nil {
		return false, "invalid credential"
	}
	return true, "ok"
}

// Register implements Adapter.
func (a *GormMySQLAdapter) Register(ctx context.Context, name string, credential []byte) (bool, string) {
	var existing credentialRecord
	err := a.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error
	if err == nil {
		return false, "name already registered"
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "credential store error: " + err.Error()
	}

	hash, err := bcrypt.GenerateFromPassword(credential, bcrypt.DefaultCost)
	if err != nil {
		return false, "hashing failure: " + err.Error()
	}

	rec := credentialRecord{Name: name, PasswordHash: string(hash)}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return false, "credential store error: " + err.Error()
	}
	return true, "ok"
}
