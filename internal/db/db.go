package db

import (
	"log"
	"os"
	"quanzi/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Init() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		// Fallback for local dev if not set
		dsn = "host=localhost user=postgres password=postgres dbname=quanzi port=5432 sslmode=disable TimeZone=Asia/Shanghai"
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Database connection established")

	// Auto Migrate
	err = DB.AutoMigrate(
		&models.User{},
		&models.Circle{},
		&models.AiFollower{},
		&models.CircleFollower{},
		&models.Post{},
		&models.Interaction{},
		&models.PendingResponse{},
		&models.Notification{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migration completed")

	// 进程上次退出时可能留下已认领但未完成的待回应记录，启动时释放
	if err := DB.Model(&models.PendingResponse{}).
		Where("processing = ?", true).
		UpdateColumn("processing", false).Error; err != nil {
		log.Printf("Failed to release stale pending responses: %v", err)
	}
}
