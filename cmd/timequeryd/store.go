package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/timequery/cmd/timequeryd/config"
	"github.com/HatiCode/timequery/pkg/storage"
)

// snapshotStore bundles the configured store with its lifecycle hooks.
type snapshotStore struct {
	storage.Store
	health func() error
	close  func() error
}

// newStore opens the snapshot store selected by cfg.Storage.
func newStore(cfg *config.Config, logger *slog.Logger) (*snapshotStore, error) {
	switch cfg.Storage {
	case "redis":
		rs, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis snapshot store", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
		return &snapshotStore{
			Store: rs,
			health: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				return rs.Ping(ctx)
			},
			close: rs.Close,
		}, nil

	case "badger":
		bs, err := storage.NewBadgerStore(cfg.BadgerDir, cfg.BadgerTTL)
		if err != nil {
			return nil, err
		}
		logger.Info("using badger snapshot store", "dir", cfg.BadgerDir, "ttl", cfg.BadgerTTL)
		return &snapshotStore{Store: bs, close: bs.Close}, nil

	case "memory":
		var ms *storage.MemoryStore
		if cfg.MemoryTTL > 0 {
			ms = storage.NewMemoryStoreWithTTL(cfg.MemoryTTL, time.Minute)
		} else {
			ms = storage.NewMemoryStore()
		}
		logger.Info("using in-memory snapshot store", "ttl", cfg.MemoryTTL)
		return &snapshotStore{
			Store: ms,
			close: func() error { ms.Stop(); return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// Delete forwards to the underlying store when it supports deletion.
func (s *snapshotStore) Delete(ctx context.Context, cell string) (bool, error) {
	d, ok := s.Store.(storage.Deleter)
	if !ok {
		return false, nil
	}
	return d.Delete(ctx, cell)
}
