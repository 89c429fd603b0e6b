package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EchoMark/cache"
	"EchoMark/config"
	"EchoMark/core/auth"
	"EchoMark/core/engine"
	"EchoMark/core/watermark"
	"EchoMark/db"
	"EchoMark/logger"
	"EchoMark/model"
	"EchoMark/repository"
	"EchoMark/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: "logs/echomark.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	auth.InitJWT(cfg.JWTSecret, cfg.JWTExpiryHours)

	// 设置服务器超时
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		ReadTimeout:  5 * time.Minute, // 上传大文件需要较长时间
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 初始化 MinIO 客户端
	if err := storage.InitMinio(cfg); err != nil {
		log.Fatalf("Failed to initialize MinIO: %v", err)
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.DB.Close()

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// GORM连接，用于新模块
	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("Failed to connect GORM: %v", err)
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.DownloadLog{}); err != nil {
		log.Fatalf("Failed to migrate models: %v", err)
	}

	// Connect to Redis
	if err := db.ConnectRedis(cfg); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer db.CloseRedis()
	log.Println("Successfully connected to Redis")

	userRepo := repository.NewMySQLUserRepository(db.DB)
	assetRepo := repository.NewMySQLAssetRepository(db.DB)
	watermarkRepo := repository.NewMySQLWatermarkRepository(db.DB)
	downloadRepo := repository.NewGormDownloadLogRepository(db.GormDB)

	blobs := storage.GetClient()
	engineClient := engine.NewClient(cfg)
	ingestor := watermark.NewIngestor(userRepo, assetRepo, watermarkRepo, blobs, engineClient)
	detector := watermark.NewDetector(userRepo, assetRepo, watermarkRepo, blobs, engineClient)

	loginLimiter := cache.NewLoginLimiter(5, 10*time.Minute)
	detectLimiter := cache.NewAnonDetectLimiter(cfg.AnonDetectLimit, cfg.AnonDetectWindow)

	// 初始化处理器
	apiHandler := NewAPIHandler(userRepo, assetRepo, watermarkRepo, downloadRepo,
		ingestor, detector, blobs, loginLimiter, detectLimiter, cfg)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/register", apiHandler.RegisterHandler).Methods(http.MethodPost)

	// 音频资产相关的API端点
	router.HandleFunc("/api/assets", apiHandler.AuthMiddleware(apiHandler.UploadAssetHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/assets", apiHandler.AuthMiddleware(apiHandler.GetMyAssetsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/assets/all", apiHandler.AdminMiddleware(apiHandler.GetAllAssetsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/assets/{id}", apiHandler.AuthMiddleware(apiHandler.GetAssetHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/assets/{id}", apiHandler.AuthMiddleware(apiHandler.UpdateAssetHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/assets/{id}", apiHandler.AuthMiddleware(apiHandler.DeleteAssetHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/assets/{id}/download", apiHandler.AuthMiddleware(apiHandler.DownloadAssetHandler)).Methods(http.MethodGet)

	// 水印检测端点，匿名可用
	router.HandleFunc("/api/detect", apiHandler.OptionalAuthMiddleware(apiHandler.DetectHandler)).Methods(http.MethodPost)

	server.Handler = router

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		log.Printf("Server starting on %s...", cfg.ServerAddr)
		log.Println("Upload audio via POST to /api/assets")
		log.Println("Detect watermarks via POST to /api/detect")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待中断信号
	<-stop
	log.Println("Shutting down server...")

	// 创建一个5秒超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
