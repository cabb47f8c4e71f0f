package nvstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// ImageSize is the size of the credential image in bytes.
	ImageSize = 256

	// Erased is the value of an unwritten byte.
	Erased = 0xFF

	filePermissions = 0600
	dirPermissions  = 0750
)

// Field is a fixed byte range in the image.
type Field struct {
	Name   string
	Offset int
	Width  int
}

// The four credential fields.
var (
	FieldSSID       = Field{Name: "ssid", Offset: 0, Width: 32}
	FieldPassphrase = Field{Name: "passphrase", Offset: 32, Width: 64}
	FieldBrokerUser = Field{Name: "broker_user", Offset: 96, Width: 64}
	FieldBrokerPass = Field{Name: "broker_pass", Offset: 160, Width: 64}
)

// Store is a file-backed credential image. Every write replaces the file
// atomically via rename.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns the store at path, creating an erased image if none exists.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return nil, fmt.Errorf("nvstore: creating directory: %w", err)
		}
		if err := s.writeImage(bytes.Repeat([]byte{Erased}, ImageSize)); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("nvstore: %w", err)
	}

	if _, err := s.readImage(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the image file path.
func (s *Store) Path() string {
	return s.path
}

// Read returns the decoded string value of field.
func (s *Store) Read(f Field) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := s.readImage()
	if err != nil {
		return "", err
	}
	return decode(img[f.Offset : f.Offset+f.Width]), nil
}

// Write stores value in field, zero-padding the remainder.
func (s *Store) Write(f Field, value string) error {
	return s.update(func(img []byte) error {
		return encode(img, f, value)
	})
}

// Erase resets field to the erased-byte value.
func (s *Store) Erase(f Field) error {
	return s.update(func(img []byte) error {
		for i := f.Offset; i < f.Offset+f.Width; i++ {
			img[i] = Erased
		}
		return nil
	})
}

// Load reads both credential pairs.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := s.readImage()
	if err != nil {
		return Credentials{}, err
	}
	field := func(f Field) string { return decode(img[f.Offset : f.Offset+f.Width]) }

	return Credentials{
		Network: NetworkCredentials{SSID: field(FieldSSID), Passphrase: field(FieldPassphrase)},
		Broker:  BrokerCredentials{Username: field(FieldBrokerUser), Password: field(FieldBrokerPass)},
	}, nil
}

// SaveNetwork writes the WiFi pair in one update.
func (s *Store) SaveNetwork(c NetworkCredentials) error {
	return s.update(func(img []byte) error {
		if err := encode(img, FieldSSID, c.SSID); err != nil {
			return err
		}
		return encode(img, FieldPassphrase, c.Passphrase)
	})
}

// SaveBroker writes the MQTT pair in one update.
func (s *Store) SaveBroker(c BrokerCredentials) error {
	return s.update(func(img []byte) error {
		if err := encode(img, FieldBrokerUser, c.Username); err != nil {
			return err
		}
		return encode(img, FieldBrokerPass, c.Password)
	})
}

// ClearNetwork erases the WiFi pair so the next boot provisions.
func (s *Store) ClearNetwork() error {
	if err := s.Erase(FieldSSID); err != nil {
		return err
	}
	return s.Erase(FieldPassphrase)
}

func (s *Store) update(fn func(img []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := s.readImage()
	if err != nil {
		return err
	}
	if err := fn(img); err != nil {
		return err
	}
	return s.writeImage(img)
}

func (s *Store) readImage() ([]byte, error) {
	img, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("nvstore: reading image: %w", err)
	}
	if len(img) != ImageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadImage, len(img))
	}
	return img, nil
}

func (s *Store) writeImage(img []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, img, filePermissions); err != nil {
		return fmt.Errorf("nvstore: writing image: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("nvstore: replacing image: %w", err)
	}
	return nil
}

func encode(img []byte, f Field, value string) error {
	if len(value) > f.Width {
		return fmt.Errorf("%w: %s holds %d bytes, got %d", ErrFieldTooLong, f.Name, f.Width, len(value))
	}
	dst := img[f.Offset : f.Offset+f.Width]
	clear(dst)
	copy(dst, value)
	return nil
}

// decode turns a raw field into a string. All-erased and all-zero fields
// are empty; otherwise the value ends at the first NUL or erased byte.
func decode(raw []byte) string {
	if allBytes(raw, Erased) || allBytes(raw, 0) {
		return ""
	}
	for i, c := range raw {
		if c == 0 || c == Erased {
			return string(raw[:i])
		}
	}
	return string(raw)
}

func allBytes(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}
