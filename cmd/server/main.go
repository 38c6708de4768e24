package main

import (
	"log"

	"gorm.io/gorm"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/database"
	"whiteboard-backend/internal/engine"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/mirror"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/server"
	"whiteboard-backend/internal/store"
)

func main() {
	cfg := config.Load()

	// Primary operation store. A configured but unreachable Redis is
	// fatal: starting without the shared log would fork board history.
	var (
		opStore     store.OperationStore
		storePinger handler.Pinger
	)
	if cfg.Redis.Addr != "" {
		redisStore, err := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			log.Fatalf("[Main] Redis connection failed: %v", err)
		}
		defer redisStore.Close()
		opStore = redisStore
		storePinger = redisStore
	} else {
		log.Println("[Main] REDIS_ADDR not set, using in-memory operation store (single node only)")
		opStore = store.NewMemoryStore()
	}

	// Board metadata storage is optional.
	var db *gorm.DB
	dbCfg := database.LoadConfig()
	if dbCfg.Host != "" {
		var err error
		db, err = database.Connect(dbCfg)
		if err != nil {
			log.Printf("[Main] Database connection failed: %v (board settings disabled)", err)
			db = nil
		} else {
			defer database.Close(db)
			log.Println("[Main] Database connected")
		}
	} else {
		log.Println("[Main] DB_HOST not set, board settings storage disabled")
	}

	mirrorSvc, err := mirror.New(cfg.Mirror.Enabled, cfg.Mirror.Folder, cfg.Mirror.Debounce, opStore)
	if err != nil {
		log.Fatalf("[Main] Mirror initialization failed: %v", err)
	}
	defer mirrorSvc.Close()

	registry := room.NewRegistry()
	hub := handler.NewBoardHub(registry, cfg.WebSocket.WriteTimeout)
	eng := engine.New(opStore, mirrorSvc, hub, cfg.Board.PersistTimeout)

	srv := server.New(cfg, db, eng, hub, registry, storePinger)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		log.Fatalf("[Main] Server failed to start: %v", err)
	}
}
