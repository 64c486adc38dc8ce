package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"face-attendance-go/config"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisKeyPrefix = "liveness:session:"

// RedisStore legt Sessions in Redis ab, damit mehrere Instanzen denselben
// Enrollment-Fluss bedienen können. Die Einträge tragen ein TTL etwas über
// der Session-Lebensdauer; abgelaufene Sessions räumen sich so von selbst.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore verbindet sich mit Redis und prüft die Verbindung
func NewRedisStore(ctx context.Context, cfg config.RedisConfig, sessionTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Infof("Redis session store connected: %s (db %d)", cfg.Addr, cfg.DB)

	// Etwas Spielraum über dem Session-TTL, damit terminale Zustände noch
	// abgefragt werden können
	return &RedisStore{
		client: client,
		ttl:    sessionTTL + 30*time.Minute,
	}, nil
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Put legt eine neue Session an oder ersetzt sie vollständig
func (r *RedisStore) Put(ctx context.Context, session *Session) error {
	stored := session.Clone()
	stored.Version++

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := r.client.Set(ctx, redisKey(session.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	session.Version = stored.Version
	return nil
}

// Get liefert eine Kopie der Session oder ErrNotFound
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	payload, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// CompareAndSwap schreibt die Session über WATCH/MULTI nur, wenn die
// gespeicherte Version der erwarteten entspricht
func (r *RedisStore) CompareAndSwap(ctx context.Context, session *Session, expectedVersion int64) error {
	key := redisKey(session.ID)

	txErr := r.client.Watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var current Session
		if err := json.Unmarshal(payload, &current); err != nil {
			return fmt.Errorf("failed to decode session: %w", err)
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}

		stored := session.Clone()
		stored.Version = expectedVersion + 1
		next, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(txErr, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if txErr != nil {
		return txErr
	}

	session.Version = expectedVersion + 1
	return nil
}

// List liefert Kopien aller gespeicherten Sessions
func (r *RedisStore) List(ctx context.Context) ([]*Session, error) {
	var sessions []*Session

	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // Zwischen Scan und Get abgelaufen
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}

		var session Session
		if err := json.Unmarshal(payload, &session); err != nil {
			log.Warnf("Skipping undecodable session at %s: %v", iter.Val(), err)
			continue
		}
		sessions = append(sessions, &session)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	return sessions, nil
}

// Delete entfernt eine Session endgültig
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, redisKey(id)).Err()
}

// Close schließt die Redis-Verbindung
func (r *RedisStore) Close() error {
	return r.client.Close()
}
