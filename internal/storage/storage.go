package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// ErrNotOwner is returned when a key does not belong to the requesting user.
var ErrNotOwner = errors.New("storage: object not owned by user")

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Store is the durable blob store for uploaded files and side artifacts.
// Keys are namespaced by owner; Get and Delete refuse keys outside the
// owner's prefix.
type Store interface {
	// Put writes the original upload and returns its storage key.
	Put(ctx context.Context, ownerID, fileName, contentType string, data []byte) (string, error)
	// PutText writes a text side artifact (summary, transcript) under the
	// given subdirectory and returns its storage key.
	PutText(ctx context.Context, subdir, ownerID, fileName, text string) (string, error)
	Get(ctx context.Context, ownerID, key string) ([]byte, error)
	Delete(ctx context.Context, ownerID, key string) error
}

const uploadsPrefix = "uploads/"

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeName(name string) string {
	name = path.Base(name)
	name = unsafeName.ReplaceAllString(name, "_")
	if name == "" || name == "." {
		name = "file"
	}
	return name
}

// objectKey builds `<prefix><ownerID>/<unixms>-<rand>-<name>`. The owner
// segment is what Get and Delete check against.
func objectKey(prefix, ownerID, fileName string) (string, error) {
	var rnd [4]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s/%d-%s-%s",
		prefix, ownerID, time.Now().UnixMilli(), hex.EncodeToString(rnd[:]), sanitizeName(fileName)), nil
}

func checkOwner(key, ownerID string) error {
	// Every key carries exactly one owner segment after its top prefix.
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 3 || parts[1] != ownerID {
		return ErrNotOwner
	}
	return nil
}
