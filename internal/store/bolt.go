package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices    = []byte("devices")
	bucketAttributes = []byte("attributes")
)

// BoltStore implements Store using BoltDB. Attribute snapshots live in a
// nested bucket per device under "attributes".
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketAttributes} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data, err := json.Marshal(dev)
		if err != nil {
			return err
		}
		return b.Put([]byte(dev.IEEEAddress), data)
	})
}

func (s *BoltStore) GetDevice(ieee string) (*Device, error) {
	var dev Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get([]byte(ieee))
		if data == nil {
			return fmt.Errorf("device %s: %w", ieee, ErrNotFound)
		}
		return json.Unmarshal(data, &dev)
	})
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

// DeleteDevice removes the device and its attribute snapshots.
func (s *BoltStore) DeleteDevice(ieee string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		if err := b.Delete([]byte(ieee)); err != nil {
			return err
		}
		attrs := tx.Bucket(bucketAttributes)
		if attrs == nil {
			return nil
		}
		if attrs.Bucket([]byte(ieee)) == nil {
			return nil
		}
		return attrs.DeleteBucket([]byte(ieee))
	})
}

func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil // no bucket = no devices
		}
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return err
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) UpdateDevice(ieee string, fn func(dev *Device) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get([]byte(ieee))
		if data == nil {
			return fmt.Errorf("device %s: %w", ieee, ErrNotFound)
		}
		var dev Device
		if err := json.Unmarshal(data, &dev); err != nil {
			return err
		}
		if err := fn(&dev); err != nil {
			return err
		}
		out, err := json.Marshal(&dev)
		if err != nil {
			return err
		}
		return b.Put([]byte(ieee), out)
	})
}

func (s *BoltStore) SaveAttribute(ieee string, key AttrKey, v AttributeValue) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		attrs := tx.Bucket(bucketAttributes)
		if attrs == nil {
			return fmt.Errorf("bucket %q not found", bucketAttributes)
		}
		b, err := attrs.CreateBucketIfNotExists([]byte(ieee))
		if err != nil {
			return fmt.Errorf("device bucket %s: %w", ieee, err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put(key.bytes(), data)
	})
}

// LoadAttributes returns every stored attribute of a device. A device with no
// snapshots yields an empty map.
func (s *BoltStore) LoadAttributes(ieee string) (map[AttrKey]AttributeValue, error) {
	out := make(map[AttrKey]AttributeValue)
	err := s.db.View(func(tx *bolt.Tx) error {
		attrs := tx.Bucket(bucketAttributes)
		if attrs == nil {
			return nil
		}
		b := attrs.Bucket([]byte(ieee))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			key, err := parseAttrKey(k)
			if err != nil {
				return err
			}
			var av AttributeValue
			if err := json.Unmarshal(v, &av); err != nil {
				return fmt.Errorf("attribute %s: %w", key, err)
			}
			out[key] = av
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
