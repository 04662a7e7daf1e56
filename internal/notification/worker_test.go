package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"parking-status-backend/internal/db"
	"parking-status-backend/internal/model"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	require.NoError(t, gormDB.Create(&model.Lot{ID: 1, Name: "North Lot"}).Error)
	require.NoError(t, gormDB.Create(&model.Slot{ID: 7, LotID: 1, SlotNumber: 12}).Error)
	return gormDB
}

func subscribe(t *testing.T, gormDB *gorm.DB, endpoint string, lotID int64) {
	t.Helper()
	sub := model.PushSubscription{Endpoint: endpoint, P256DH: "key", Auth: "secret"}
	require.NoError(t, gormDB.Create(&sub).Error)
	var lot model.Lot
	require.NoError(t, gormDB.First(&lot, lotID).Error)
	require.NoError(t, gormDB.Model(&sub).Association("Lots").Append(&lot))
}

func TestWorkerPool_Dispatch(t *testing.T) {
	wp := NewWorkerPool(1, newTestDB(t), &webpush.Options{})

	wp.Dispatch(7)

	select {
	case slotID := <-wp.jobs:
		assert.Equal(t, int64(7), slotID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the dispatched slot")
	}
}

func TestWorkerPool_DispatchFullQueueDrops(t *testing.T) {
	wp := NewWorkerPool(1, newTestDB(t), &webpush.Options{})

	// Buffer of one; the second dispatch must not block the caller.
	wp.Dispatch(7)
	done := make(chan struct{})
	go func() {
		wp.Dispatch(8)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestWorkerPool_NotifiesLotSubscribers(t *testing.T) {
	gormDB := newTestDB(t)
	subscribe(t, gormDB, "https://push.example.com/one", 1)

	wp := NewWorkerPool(1, gormDB, &webpush.Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			assert.Equal(t, "https://push.example.com/one", sub.Endpoint)
			assert.Equal(t, "Slot 12 in North Lot is now available!", string(payload))
			wg.Done()
			return &http.Response{
				StatusCode: http.StatusCreated,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(7)
	wg.Wait()
}

func TestWorkerPool_DeletesExpiredSubscription(t *testing.T) {
	gormDB := newTestDB(t)
	subscribe(t, gormDB, "https://push.example.com/expired", 1)

	wp := NewWorkerPool(1, gormDB, &webpush.Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			wg.Done()
			return &http.Response{
				StatusCode: http.StatusGone,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(7)
	wg.Wait()

	// The 410 response marks the subscription dead; give the worker a moment
	// to finish the delete.
	assert.Eventually(t, func() bool {
		var count int64
		gormDB.Model(&model.PushSubscription{}).Count(&count)
		return count == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWorkerPool_NoSubscribersIsQuiet(t *testing.T) {
	gormDB := newTestDB(t)
	wp := NewWorkerPool(1, gormDB, &webpush.Options{})

	sent := false
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			sent = true
			return &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(bytes.NewBufferString(""))}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(7)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, sent)
}
