// Package testutil builds throwaway stores and fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewStore opens a private in-memory SQLite database with every table migrated.
func NewStore(t testing.TB) *database.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// One connection keeps the shared in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database.NewStore(db)
}

// Fixtures groups the records most tests need: one user owning a connection,
// a connected device and a message template.
type Fixtures struct {
	UserID     string
	Connection *models.Connection
	Device     *models.Device
	Template   *models.MessageTemplate
}

func SeedFixtures(t testing.TB, store *database.Store, platform models.Platform) Fixtures {
	t.Helper()
	ctx := context.Background()
	userID := "user-" + uuid.NewString()[:8]

	conn := &models.Connection{
		UserID:      userID,
		Platform:    platform,
		Name:        "store",
		AccessToken: "token-123",
		ShopDomain:  "demo.myshopify.com",
	}
	if err := store.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	device := &models.Device{
		UserID:       userID,
		InstanceName: "instance-" + uuid.NewString()[:8],
		PhoneNumber:  "212600000000",
		Status:       models.DeviceConnected,
	}
	if err := store.CreateDevice(ctx, device); err != nil {
		t.Fatalf("seed device: %v", err)
	}
	tmpl := &models.MessageTemplate{
		UserID:  userID,
		Name:    "confirm",
		Content: "Hi {{customer_name}}, please confirm order {{order_id}}",
	}
	if err := store.CreateMessageTemplate(ctx, tmpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return Fixtures{UserID: userID, Connection: conn, Device: device, Template: tmpl}
}
