package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"casedocs/internal/auth"
	"casedocs/internal/blob"
	"casedocs/internal/catalog"
	"casedocs/internal/config"
	"casedocs/internal/index"
	"casedocs/internal/redis"
	"casedocs/internal/service/ingest"
	"casedocs/internal/service/query"
	"casedocs/internal/storage"
	"casedocs/internal/worker"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg        *config.Config
	db         *sql.DB
	rdb        *redis.Client
	blobs      *blob.FileStore
	catalog    *catalog.Catalog
	manager    *index.Manager
	dispatcher *worker.Dispatcher
	ingest     *ingest.Service
	query      *query.Service
	auth       *auth.Service
}

func newApp(cfgPath, dbType string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log.Printf("dbType: %s", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a := &app{cfg: cfg, db: db, catalog: catalog.New(db), auth: auth.NewService(cfg.Auth.Tokens)}

	if redis.Enabled(cfg) {
		a.rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create redis client: %w", err)
		}
	} else {
		log.Printf("redis not configured: store cache and index locks disabled")
	}

	a.blobs, err = blob.NewFileStore(cfg.Storage.BaseDir, []byte(cfg.Storage.SigningKey), cfg.Storage.PublicBaseURL)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return a, nil
}

// withIndexing builds the index backend and the services that depend on it. Commands
// that never reach the index, like sweep, skip it so they run without backend credentials.
func (a *app) withIndexing(ctx context.Context) error {
	cfg := a.cfg
	backend, err := index.NewBackend(ctx, cfg.Index)
	if err != nil {
		return fmt.Errorf("init index backend: %w", err)
	}
	var managerOpts []index.Option
	if a.rdb != nil {
		managerOpts = append(managerOpts, index.WithCache(a.rdb, cfg.Index.StoreCacheDuration()))
	}
	if cfg.Index.PollBackoff > 1 {
		managerOpts = append(managerOpts, index.WithBackoff(cfg.Index.PollBackoff, cfg.Index.PollCap()))
	}
	a.manager = index.NewManager(backend, a.catalog, managerOpts...)

	a.dispatcher = worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	ingestOpts := []ingest.Option{ingest.WithScheduler(a.dispatcher)}
	if a.rdb != nil {
		ingestOpts = append(ingestOpts, ingest.WithLocker(a.rdb))
	}
	a.ingest = ingest.NewService(a.catalog, a.blobs, a.manager, ingest.Options{
		Bucket:         cfg.Storage.Bucket,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
		MaxWait:        cfg.Index.WaitBudget(),
		PollInterval:   cfg.Index.PollEvery(),
	}, ingestOpts...)
	a.query = query.NewService(a.catalog, a.manager)
	return nil
}

func (a *app) sweeper() *ingest.Sweeper {
	grace := time.Duration(a.cfg.BasicConfig.OrphanGrace) * time.Minute
	return ingest.NewSweeper(a.catalog, a.blobs, a.cfg.Storage.Bucket, grace)
}

func (a *app) close() {
	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.dispatcher.Close(ctx); err != nil {
			log.Printf("dispatcher close: %v", err)
		}
		cancel()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
