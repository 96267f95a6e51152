package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"edaagent/pkg/domain"
)

type memoryObjects struct {
	objects      map[string]string
	contentTypes map[string]string
	putErr       error
	lastExpiry   time.Duration
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string]string{}, contentTypes: map[string]string{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.objects[key] = string(data)
	m.contentTypes[key] = contentType
	return nil
}

func (m *memoryObjects) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	m.lastExpiry = expiry
	return "https://objects.local/" + key + "?sig=1", nil
}

func TestScriptArchiveStoreAndURL(t *testing.T) {
	objects := newMemoryObjects()
	archive := NewScriptArchive(objects, "fusion360-eda-agent", 0)
	rec := domain.DesignRecord{ID: "d1", UserID: "u1", Script: "import adsk.core\n"}

	if err := archive.Store(context.Background(), rec); err != nil {
		t.Fatalf("store: %v", err)
	}
	key := "designs/fusion360-eda-agent/u1/d1.py"
	if objects.objects[key] != rec.Script {
		t.Fatalf("unexpected object at %s: %q", key, objects.objects[key])
	}
	if objects.contentTypes[key] != "text/x-python" {
		t.Fatalf("unexpected content type: %q", objects.contentTypes[key])
	}

	url, err := archive.URL(context.Background(), "u1", "d1")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if url != "https://objects.local/"+key+"?sig=1" {
		t.Fatalf("unexpected url: %q", url)
	}
	if objects.lastExpiry != defaultPresignExpiry {
		t.Fatalf("expected default expiry, got %v", objects.lastExpiry)
	}
}

func TestScriptArchiveStoreWrapsError(t *testing.T) {
	objects := newMemoryObjects()
	objects.putErr = errors.New("bucket unavailable")
	archive := NewScriptArchive(objects, "app", time.Minute)

	err := archive.Store(context.Background(), domain.DesignRecord{ID: "d1", UserID: "u1"})
	if !errors.Is(err, objects.putErr) {
		t.Fatalf("expected wrapped put error, got %v", err)
	}
}

func TestNewMinioStoreValidatesConfig(t *testing.T) {
	if _, err := NewMinioStore(context.Background(), MinioConfig{Bucket: "b"}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
	if _, err := NewMinioStore(context.Background(), MinioConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
