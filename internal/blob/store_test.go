package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
		"s3":     NewMockS3ForTests(),
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			opts := PutOptions{ContentType: "application/x-ndjson", Metadata: map[string]string{"events": "3"}}
			info, err := store.Put(ctx, "exports/a/events.ndjson", strings.NewReader("{\"id\":1}\n"), opts)
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if info.Size != 9 || info.Key != "exports/a/events.ndjson" {
				t.Fatalf("unexpected info %+v", info)
			}
			if _, err := store.Put(ctx, "exports/a/events.ndjson", strings.NewReader("x"), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}

			got, rc, err := store.Get(ctx, "exports/a/events.ndjson")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			body, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(body) != "{\"id\":1}\n" {
				t.Fatalf("unexpected body %q", body)
			}
			if got.ContentType != "application/x-ndjson" || got.Metadata["events"] != "3" {
				t.Fatalf("metadata not preserved: %+v", got)
			}
			if _, _, err := store.Get(ctx, "exports/missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if _, err := store.Put(ctx, "exports/b/latest.json", strings.NewReader("{}"), PutOptions{}); err != nil {
				t.Fatalf("Put second: %v", err)
			}
			if _, err := store.Put(ctx, "other/c", strings.NewReader("{}"), PutOptions{}); err != nil {
				t.Fatalf("Put third: %v", err)
			}
			listed, err := store.List(ctx, "exports/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(listed) != 2 || listed[0].Key != "exports/a/events.ndjson" || listed[1].Key != "exports/b/latest.json" {
				t.Fatalf("unexpected listing %+v", listed)
			}

			deleted, err := store.Delete(ctx, "exports/b/latest.json")
			if err != nil || !deleted {
				t.Fatalf("Delete existing: %v %v", deleted, err)
			}
			deleted, err = store.Delete(ctx, "exports/b/latest.json")
			if err != nil || deleted {
				t.Fatalf("Delete missing: %v %v", deleted, err)
			}
		})
	}
}

func TestStoreDrivers(t *testing.T) {
	want := map[string]Driver{"fs": DriverFilesystem, "memory": DriverMemory, "s3": DriverS3}
	for name, store := range storesUnderTest(t) {
		if store.Driver() != want[name] {
			t.Fatalf("%s: unexpected driver %s", name, store.Driver())
		}
	}
}

func TestOpenFromEnvironment(t *testing.T) {
	ctx := context.Background()
	t.Setenv("RESOURCECORE_BLOB_DRIVER", "memory")
	store, err := Open(ctx)
	if err != nil || store.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v %v", store, err)
	}

	t.Setenv("RESOURCECORE_BLOB_DRIVER", "")
	t.Setenv("RESOURCECORE_BLOB_FS_ROOT", t.TempDir())
	store, err = Open(ctx)
	if err != nil || store.Driver() != DriverFilesystem {
		t.Fatalf("default driver: %v %v", store, err)
	}

	t.Setenv("RESOURCECORE_BLOB_DRIVER", "s3")
	t.Setenv("RESOURCECORE_BLOB_S3_BUCKET", "")
	if _, err := Open(ctx); err == nil || !strings.Contains(err.Error(), "BUCKET") {
		t.Fatalf("expected bucket error, got %v", err)
	}

	t.Setenv("RESOURCECORE_BLOB_DRIVER", "tape")
	if _, err := Open(ctx); err == nil || !strings.Contains(err.Error(), "unknown blob driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
