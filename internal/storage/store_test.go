package storage

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestFSStorePutAndGet(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	data := []byte("jpeg bytes")
	hash, err := store.Put(ctx, &Object{Type: ObjectTypeVariant, ContentType: "image/jpeg", Data: data})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if hash != HashOf(data) {
		t.Fatalf("Put returned %s, want content hash", hash)
	}
	if _, err := os.Stat(store.blobPath(hash)); err != nil {
		t.Errorf("Object file not created: %v", err)
	}

	got, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != string(data) {
		t.Errorf("Got data %q, want %q", got.Data, data)
	}
	if got.Type != ObjectTypeVariant || got.ContentType != "image/jpeg" {
		t.Errorf("Got type %v/%s", got.Type, got.ContentType)
	}
}

func TestFSStoreDeduplicates(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ctx := context.Background()
	obj := &Object{Type: ObjectTypeVariant, Data: []byte("same")}
	h1, _ := store.Put(ctx, obj)
	h2, _ := store.Put(ctx, obj)
	if h1 != h2 {
		t.Fatalf("hashes differ: %s vs %s", h1, h2)
	}
	got, err := store.Get(ctx, h1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Metadata.Refs != 2 {
		t.Errorf("Refs = %d, want 2", got.Metadata.Refs)
	}
	hashes, err := store.List(ctx, ObjectTypeVariant)
	if err != nil || len(hashes) != 1 {
		t.Fatalf("List = %v, %v", hashes, err)
	}
	if other, _ := store.List(ctx, ObjectTypeSource); len(other) != 0 {
		t.Errorf("List(source) = %v, want empty", other)
	}
}

func TestFSStoreDeleteAndMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ctx := context.Background()
	hash, _ := store.Put(ctx, &Object{Data: []byte("gone soon")})
	if err := store.Delete(ctx, hash); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := store.Exists(ctx, hash); ok {
		t.Error("object still exists after Delete")
	}
	if _, err := store.Get(ctx, hash); !IsNotFound(err) {
		t.Errorf("Get after delete = %v, want not found", err)
	}
	if _, err := store.Get(ctx, "../../etc/passwd"); !IsNotFound(err) {
		t.Errorf("Get with malformed hash = %v, want not found", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestFSStoreServesObjectWithoutSidecar(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ctx := context.Background()
	hash, err := store.Put(ctx, &Object{Type: ObjectTypeVariant, ContentType: "image/png", Data: []byte("png")})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := os.Remove(store.blobPath(hash) + sidecarExt); err != nil {
		t.Fatalf("remove sidecar: %v", err)
	}

	got, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ContentType != "" || string(got.Data) != "png" {
		t.Errorf("Get = %+v", got)
	}
	if all, _ := store.List(ctx, ""); len(all) != 1 || all[0] != hash {
		t.Errorf("List = %v, want [%s]", all, hash)
	}

	// Putting the bytes again restores the sidecar.
	if _, err := store.Put(ctx, &Object{Type: ObjectTypeVariant, ContentType: "image/png", Data: []byte("png")}); err != nil {
		t.Fatalf("re-Put failed: %v", err)
	}
	got, _ = store.Get(ctx, hash)
	if got.ContentType != "image/png" || got.Metadata.Refs != 1 {
		t.Errorf("restored metadata = %+v", got.Metadata)
	}
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("backend unreachable")
	store.SetFailure(boom)
	if _, err := store.Put(ctx, &Object{Data: []byte("x")}); !errors.Is(err, boom) {
		t.Fatalf("Put = %v, want injected failure", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, boom) {
		t.Fatalf("Ping = %v, want injected failure", err)
	}
	store.SetFailure(nil)
	hash, err := store.Put(ctx, &Object{Data: []byte("x")})
	if err != nil {
		t.Fatalf("Put after recovery failed: %v", err)
	}
	got, err := store.Get(ctx, hash)
	if err != nil || string(got.Data) != "x" {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if c := store.GetCalls(); c.Put != 2 || c.Get != 1 {
		t.Errorf("calls = %+v", c)
	}
}
