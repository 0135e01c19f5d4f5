package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const bucketName = "receipts"

// IDGenerator generates unique IDs for receipt records
type IDGenerator interface {
	Generate() string
}

// uuidGenerator generates IDs using random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// DB defines the interface for receipt metadata operations. IDs are assigned
// by the store on append and never change afterwards.
type DB interface {
	// AppendReceipt persists a new record and returns its assigned ID
	AppendReceipt(receipt *Receipt) (string, error)

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceiptsByUser returns the given user's receipts, newest date first.
	// A user with no receipts yields an empty slice, not an error.
	ListReceiptsByUser(userID string) ([]*Receipt, error)

	// DeleteReceipt removes a receipt; deleting a missing ID is not an error
	DeleteReceipt(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db          *bbolt.DB
	idGenerator IDGenerator
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	return NewBoltDBWithIDGenerator(path, &uuidGenerator{})
}

// NewBoltDBWithIDGenerator creates a BoltDB with a custom ID generator for testing
func NewBoltDBWithIDGenerator(path string, idGen IDGenerator) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if os.IsPermission(err) {
			return nil, wrapKind(ErrMetadataPermissionDenied, err)
		}
		return nil, wrapKind(ErrMetadataUnavailable, fmt.Errorf("opening boltdb: %w", err))
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, mapMetadataErr(fmt.Errorf("creating bucket: %w", err))
	}

	return &BoltDB{db: db, idGenerator: idGen}, nil
}

// mapMetadataErr tags a raw store error with the matching error kind
func mapMetadataErr(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseReadOnly) {
		return wrapKind(ErrMetadataPermissionDenied, err)
	}
	return wrapKind(ErrMetadataUnavailable, err)
}

// AppendReceipt persists a new record under a freshly assigned ID
func (b *BoltDB) AppendReceipt(receipt *Receipt) (string, error) {
	id := b.idGenerator.Generate()
	record := *receipt
	record.ID = id

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(id), data)
	})
	if err != nil {
		return "", mapMetadataErr(err)
	}
	return id, nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, mapMetadataErr(err)
	}
	return receipt, nil
}

// ListReceiptsByUser returns the given user's receipts ordered by capture
// date, newest first. Bolt has no composite index, so the scan filters and
// sorts in memory; ErrQueryUnsupported is reserved for DB implementations
// whose ordered query needs one provisioned.
func (b *BoltDB) ListReceiptsByUser(userID string) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if receipt.UserID == userID {
				receipts = append(receipts, &receipt)
			}
			return nil
		})
	})
	if err != nil {
		return nil, mapMetadataErr(err)
	}

	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].Date.After(receipts[j].Date)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt; missing IDs are a no-op
func (b *BoltDB) DeleteReceipt(id string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return mapMetadataErr(err)
	}
	return nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
