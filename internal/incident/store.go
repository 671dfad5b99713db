package incident

import (
	"context"
	"errors"

	"github.com/eleven-am/sentinel-backend/internal/shared"
	"gorm.io/gorm"
)

// Store persists incident records for audit and manual follow-up. The
// pipeline works without it; a nil *gorm.DB disables persistence entirely.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

func (s *Store) Migrate() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.AutoMigrate(&Record{})
}

func (s *Store) Create(ctx context.Context, r *Record) error {
	if !s.Enabled() {
		return nil
	}
	if r.ID == "" {
		r.ID = shared.NewID("inc_")
	}
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *Store) Save(ctx context.Context, r *Record) error {
	if !s.Enabled() {
		return nil
	}
	return s.db.WithContext(ctx).Save(r).Error
}

func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	if !s.Enabled() {
		return nil, shared.ErrNotFound
	}
	var r Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &r, err
}

func (s *Store) ListByClient(ctx context.Context, clientID string, limit int) ([]Record, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []Record
	q := s.db.WithContext(ctx).Order("detected_at DESC").Limit(limit)
	if clientID != "" {
		q = q.Where("client_id = ?", clientID)
	}
	err := q.Find(&records).Error
	return records, err
}

func (s *Store) ListUndelivered(ctx context.Context, limit int) ([]Record, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var records []Record
	err := s.db.WithContext(ctx).
		Where("delivery_status = ?", DeliveryFailed).
		Order("detected_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
