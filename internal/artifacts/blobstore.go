package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// FSStore implements content-addressed blob storage on the filesystem.
// Blobs live under the store's blobs directory keyed by SHA-256 hex; the
// first two characters of the hash form a subdirectory to avoid too many
// files in one directory.
type FSStore struct {
	blobsDir string
}

// NewFSStore creates a blob store rooted at the given directory.
func NewFSStore(blobsDir string) (*FSStore, error) {
	if err := os.MkdirAll(blobsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}
	return &FSStore{blobsDir: blobsDir}, nil
}

// Put stores content and returns its content-addressed ID (SHA-256 hex).
// Existing content is not rewritten.
func (fs *FSStore) Put(data []byte) (string, error) {
	hash := sha256.Sum256(data)
	hashStr := hex.EncodeToString(hash[:])

	blobPath, err := fs.blobPath(hashStr)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(blobPath); err == nil {
		return hashStr, nil
	}

	if err := os.MkdirAll(filepath.Dir(blobPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create blob subdirectory: %w", err)
	}

	// Temp file + rename so readers never see a partial blob.
	tmp, err := os.CreateTemp(filepath.Dir(blobPath), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), blobPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to finalize blob: %w", err)
	}
	return hashStr, nil
}

// Get retrieves content by ID and verifies its hash on the way out.
func (fs *FSStore) Get(blobID string) ([]byte, error) {
	blobPath, err := fs.blobPath(blobID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %s", blobID)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	hash := sha256.Sum256(data)
	if hex.EncodeToString(hash[:]) != blobID {
		return nil, fmt.Errorf("blob integrity check failed: %s", blobID)
	}
	return data, nil
}

// Exists checks whether a blob with the given ID is present.
func (fs *FSStore) Exists(blobID string) bool {
	blobPath, err := fs.blobPath(blobID)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(blobPath)
	return statErr == nil
}

// blobPath validates the ID (SHA-256 hex is always 64 characters, which also
// rules out path traversal) and returns the blob's path.
func (fs *FSStore) blobPath(blobID string) (string, error) {
	if len(blobID) != 64 {
		return "", fmt.Errorf("invalid blob id: %q", blobID)
	}
	if _, err := hex.DecodeString(blobID); err != nil {
		return "", fmt.Errorf("invalid blob id: %q", blobID)
	}
	return filepath.Join(fs.blobsDir, blobID[:2], blobID), nil
}
