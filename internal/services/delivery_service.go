package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/parcelwatch/parcelwatch/internal/database"
	"github.com/parcelwatch/parcelwatch/internal/delivery"
)

// DeliveryService drives outbound delivery through the ledger. A fingerprint
// identifies one alert occurrence on one channel; the unique (channel,
// fingerprint) constraint guarantees at most one successful send per
// occurrence, while failed attempts stay eligible for retry on the next tick.
type DeliveryService struct {
	db       *gorm.DB
	channels []delivery.Channel
}

// NewDeliveryService creates a new DeliveryService
func NewDeliveryService(db *gorm.DB, channels ...delivery.Channel) *DeliveryService {
	return &DeliveryService{db: db, channels: channels}
}

// Fingerprint derives the ledger key for one alert occurrence on one channel
func Fingerprint(alertKey, county, parcelID string, lastSeenAt time.Time, channel string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%s",
		alertKey, county, parcelID, lastSeenAt.UTC().Unix(), channel)))
	return hex.EncodeToString(h[:])
}

// DeliverResult reports the outcome of one delivery pass
type DeliverResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// DeliverOpenAlerts sends every open alert occurrence that the ledger has not
// already recorded as sent. Failures are recorded, not thrown, so the ledger
// drives retry on the next tick.
func (s *DeliveryService) DeliverOpenAlerts(now time.Time) (DeliverResult, error) {
	var res DeliverResult

	var alerts []database.TriggerAlert
	err := s.db.Where("status = ?", database.AlertStatusOpen).
		Order("last_seen_at DESC, id ASC").
		Find(&alerts).Error
	if err != nil {
		return res, err
	}

	for _, ch := range s.channels {
		for _, alert := range alerts {
			fp := Fingerprint(alert.AlertKey, alert.County, alert.ParcelID, alert.LastSeenAt, ch.Key())

			var ledger database.AlertDelivery
			lookupErr := s.db.Where("channel = ? AND fingerprint = ?", ch.Key(), fp).First(&ledger).Error
			if lookupErr == nil && ledger.Status == database.DeliveryStatusSent {
				res.Skipped++
				continue
			}
			if lookupErr != nil && lookupErr != gorm.ErrRecordNotFound {
				return res, lookupErr
			}

			sendErr := ch.Send(delivery.Notification{
				AlertKey:    alert.AlertKey,
				County:      alert.County,
				ParcelID:    alert.ParcelID,
				Severity:    alert.Severity,
				FirstSeenAt: alert.FirstSeenAt,
				LastSeenAt:  alert.LastSeenAt,
				Details:     alert.Details,
			})

			if sendErr != nil {
				res.Failed++
				log.Printf("Delivery failed on %s for %s/%s %s: %v",
					ch.Key(), alert.County, alert.ParcelID, alert.AlertKey, sendErr)
				if err := s.recordAttempt(&ledger, ch.Key(), fp, database.DeliveryStatusFailed, now, sendErr.Error()); err != nil {
					return res, err
				}
				continue
			}

			res.Sent++
			if err := s.recordAttempt(&ledger, ch.Key(), fp, database.DeliveryStatusSent, now, ""); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func (s *DeliveryService) recordAttempt(existing *database.AlertDelivery, channel, fp string, status database.DeliveryStatus, now time.Time, lastError string) error {
	if existing.ID == 0 {
		row := &database.AlertDelivery{
			Channel:     channel,
			Fingerprint: fp,
			Status:      status,
			SentAt:      now,
			LastError:   lastError,
		}
		return s.db.Create(row).Error
	}
	return s.db.Model(existing).Updates(map[string]interface{}{
		"status":     status,
		"sent_at":    now,
		"last_error": lastError,
	}).Error
}
