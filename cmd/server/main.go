package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"quanzi/internal/db"
	"quanzi/internal/middleware"
	"quanzi/internal/router"
	"quanzi/internal/services"
	"quanzi/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, finding env vars from system")
	}

	// Initialize Database
	db.Init()

	// 启动回应调度器
	convStore := store.NewGormStore(db.DB)
	scheduler := services.NewResponseScheduler(convStore, services.GetLLMService())
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize Gin
	r := gin.Default()

	// Setup Sessions
	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		secret = "secret_key_change_me"
	}
	sessionStore := cookie.NewStore([]byte(secret))
	r.Use(sessions.Sessions("quanzi_session", sessionStore))

	// Middleware
	r.Use(middleware.LoadUser())

	// Routes
	router.RegisterRoutes(r, scheduler, convStore)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// 收到退出信号时先停掉调度器，避免半途认领的记录被丢下
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("Shutting down...")
		scheduler.Stop()
		os.Exit(0)
	}()

	log.Printf("Quanzi server starting on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
