package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Config{Bucket: "b"}); err == nil {
		t.Fatal("expected error for nil client")
	}
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("storage.NewClient() error = %v", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			t.Log(cerr)
		}
	}()
	if _, err := New(client, Config{Bucket: " "}); err == nil {
		t.Fatal("expected error for blank bucket")
	}
	store, err := New(client, Config{Bucket: "leads-archive"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := store.PutObject(context.Background(), "", "application/json", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}
