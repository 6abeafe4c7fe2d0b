package store

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// credentialsBucket stores the network name and secret
	credentialsBucket = "credentials"

	keySSID     = "ssid"
	keyPassword = "password"
)

// BoltStore is a bbolt implementation of the Store interface
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the credential database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(credentialsBucket)); err != nil {
			return fmt.Errorf("failed to create credentials bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// SSID returns the stored network name, or "" if not configured.
func (s *BoltStore) SSID() string {
	return s.get(keySSID)
}

// Password returns the stored network secret, or "" if not configured.
func (s *BoltStore) Password() string {
	return s.get(keyPassword)
}

// get reads a single value, defaulting to "" when absent.
func (s *BoltStore) get(key string) string {
	var value string
	s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(credentialsBucket))
		if bucket == nil {
			return nil
		}
		if data := bucket.Get([]byte(key)); data != nil {
			value = string(data)
		}
		return nil
	})
	return value
}

// SaveCredentials stores the network name and secret, overwriting any
// previous values.
func (s *BoltStore) SaveCredentials(ssid, password string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(credentialsBucket))
		if bucket == nil {
			return fmt.Errorf("credentials bucket not found")
		}
		if err := bucket.Put([]byte(keySSID), []byte(ssid)); err != nil {
			return err
		}
		return bucket.Put([]byte(keyPassword), []byte(password))
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Clear removes all stored credentials.
func (s *BoltStore) Clear() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(credentialsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(credentialsBucket))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
