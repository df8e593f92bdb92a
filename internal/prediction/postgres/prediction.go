package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	predictiondm "github.com/frahmantamala/thematic-predictions/internal/core/datamodel/prediction"
	"github.com/frahmantamala/thematic-predictions/internal/prediction"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PredictionRepository struct {
	db *gorm.DB
}

// NewPredictionRepository expects a *gorm.DB opened with TranslateError so
// unique violations surface as gorm.ErrDuplicatedKey.
func NewPredictionRepository(db *gorm.DB) *PredictionRepository {
	return &PredictionRepository{
		db: db,
	}
}

func (r *PredictionRepository) Create(ctx context.Context, p *prediction.Prediction) error {
	row := toRow(p)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return prediction.ErrDuplicateIntent
		}
		return fmt.Errorf("insert prediction: %w", err)
	}
	p.ID = row.ID
	p.Revision = row.Revision
	return nil
}

func (r *PredictionRepository) GetByID(ctx context.Context, id uuid.UUID) (*prediction.Prediction, error) {
	var row predictiondm.ThemedPrediction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return toDomain(&row), nil
}

func (r *PredictionRepository) GetByIntentID(ctx context.Context, intentID string) (*prediction.Prediction, error) {
	var row predictiondm.ThemedPrediction
	err := r.db.WithContext(ctx).Where("intent_id = ?", intentID).First(&row).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return toDomain(&row), nil
}

// Save writes the mutable columns guarded by the revision the caller read.
func (r *PredictionRepository) Save(ctx context.Context, p *prediction.Prediction, expectedRevision int64) error {
	updates := map[string]interface{}{
		"status":                   string(p.Status),
		"fulfillment_message":      p.FulfillmentMessage,
		"fulfillment_generated_at": utcPtr(p.FulfillmentGeneratedAt),
		"updated_at":               p.UpdatedAt.UTC(),
		"revision":                 expectedRevision + 1,
	}

	res := r.db.WithContext(ctx).
		Model(&predictiondm.ThemedPrediction{}).
		Where("id = ? AND revision = ?", p.ID, expectedRevision).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update prediction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return prediction.ErrRevisionConflict
	}
	p.Revision = expectedRevision + 1
	return nil
}

func (r *PredictionRepository) ExistsPaidAndActive(ctx context.Context, intentID string, now time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&predictiondm.ThemedPrediction{}).
		Where("intent_id = ? AND status = ? AND expires_at > ?", intentID, predictiondm.StatusPaid, now.UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count paid predictions: %w", err)
	}
	return count > 0, nil
}

// ExpireStale flips overdue pending rows in one statement, bumping each revision.
func (r *PredictionRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&predictiondm.ThemedPrediction{}).
		Where("status = ? AND expires_at < ?", predictiondm.StatusPendingPayment, now.UTC()).
		Updates(map[string]interface{}{
			"status":     predictiondm.StatusExpired,
			"updated_at": now.UTC(),
			"revision":   gorm.Expr("revision + 1"),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("expire stale predictions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *PredictionRepository) CountByStatus(ctx context.Context) (map[prediction.Status]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).
		Model(&predictiondm.ThemedPrediction{}).
		Select("status, count(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count predictions by status: %w", err)
	}

	counts := map[prediction.Status]int64{
		prediction.StatusPendingPayment: 0,
		prediction.StatusPaid:           0,
		prediction.StatusExpired:        0,
	}
	for _, row := range rows {
		counts[prediction.Status(row.Status)] = row.Total
	}
	return counts, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return prediction.ErrRecordNotFound
	}
	return fmt.Errorf("query prediction: %w", err)
}

func toRow(p *prediction.Prediction) *predictiondm.ThemedPrediction {
	return &predictiondm.ThemedPrediction{
		ID:                     p.ID,
		Theme:                  string(p.Theme),
		Sentiment:              string(p.Sentiment),
		RequesterName:          p.RequesterName,
		PartnerName:            p.PartnerName,
		Status:                 string(p.Status),
		IntentID:               p.IntentID,
		RedirectURL:            p.RedirectURL,
		SandboxRedirectURL:     p.SandboxRedirectURL,
		ExpiresAt:              p.ExpiresAt.UTC(),
		DiscountApplied:        p.DiscountApplied,
		BaseAmount:             p.BaseAmount,
		FinalAmount:            p.FinalAmount,
		FulfillmentMessage:     p.FulfillmentMessage,
		FulfillmentGeneratedAt: utcPtr(p.FulfillmentGeneratedAt),
		CreatedAt:              p.CreatedAt.UTC(),
		UpdatedAt:              p.UpdatedAt.UTC(),
		Revision:               p.Revision,
	}
}

func toDomain(row *predictiondm.ThemedPrediction) *prediction.Prediction {
	return &prediction.Prediction{
		ID:                     row.ID,
		Theme:                  prediction.Theme(row.Theme),
		Sentiment:              prediction.Sentiment(row.Sentiment),
		RequesterName:          row.RequesterName,
		PartnerName:            row.PartnerName,
		Status:                 prediction.Status(row.Status),
		IntentID:               row.IntentID,
		RedirectURL:            row.RedirectURL,
		SandboxRedirectURL:     row.SandboxRedirectURL,
		ExpiresAt:              row.ExpiresAt,
		DiscountApplied:        row.DiscountApplied,
		BaseAmount:             row.BaseAmount,
		FinalAmount:            row.FinalAmount,
		FulfillmentMessage:     row.FulfillmentMessage,
		FulfillmentGeneratedAt: row.FulfillmentGeneratedAt,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
		Revision:               row.Revision,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
