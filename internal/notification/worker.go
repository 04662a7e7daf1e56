package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"parking-status-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers sending slot-available notifications.
// The engine dispatches a slot id whenever a slot flips back to vacant.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("notification: worker %d started", id)
	for {
		select {
		case slotID := <-wp.jobs:
			wp.notifySlotAvailable(ctx, slotID)
		case <-ctx.Done():
			log.Printf("notification: worker %d shutting down", id)
			return
		}
	}
}

// Dispatch sends a freed slot to the worker pool. Non-blocking so the
// transition engine never waits on push delivery.
func (wp *WorkerPool) Dispatch(slotID int64) {
	select {
	case wp.jobs <- slotID:
	default:
		log.Printf("notification: queue full, dropping notification for slot %d", slotID)
	}
}

// notifySlotAvailable pushes to every subscriber of the slot's lot.
func (wp *WorkerPool) notifySlotAvailable(ctx context.Context, slotID int64) {
	var slot model.Slot
	if err := wp.db.WithContext(ctx).Preload("Lot").First(&slot, slotID).Error; err != nil {
		log.Printf("notification: error fetching slot %d: %v", slotID, err)
		return
	}

	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_lot_mapping slm ON slm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("slm.lot_id = ?", slot.LotID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("notification: error fetching subscriptions for lot %d: %v", slot.LotID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	lotLabel := slot.Lot.Name
	if lotLabel == "" {
		lotLabel = fmt.Sprintf("lot %d", slot.LotID)
	}

	log.Printf("notification: sending %d notifications for slot %d", len(subscriptions), slotID)
	message := fmt.Sprintf("Slot %d in %s is now available!", slot.SlotNumber, lotLabel)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("notification: error sending to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("notification: subscription %s is expired, deleting", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("notification: failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
