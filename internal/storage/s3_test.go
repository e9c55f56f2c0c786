package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type uploaderStub struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (u *uploaderStub) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.input = input
	data, _ := io.ReadAll(input.Body)
	u.body = string(data)
	return &manager.UploadOutput{}, nil
}

func TestS3StorageSave(t *testing.T) {
	uploader := &uploaderStub{}
	store := NewS3StorageWithUploader(uploader, "archive", "https://cdn.example.com/")

	location, err := store.Save(context.Background(), "/user-1/entry.json", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if location != "https://cdn.example.com/user-1/entry.json" {
		t.Fatalf("unexpected location %q", location)
	}
	if aws.ToString(uploader.input.Bucket) != "archive" || aws.ToString(uploader.input.Key) != "user-1/entry.json" {
		t.Fatalf("unexpected input %+v", uploader.input)
	}
	if aws.ToString(uploader.input.ContentType) != "application/json" || uploader.body != `{"a":1}` {
		t.Fatalf("unexpected upload %q", uploader.body)
	}
}

func TestS3StorageSaveWithoutPublicURL(t *testing.T) {
	store := NewS3StorageWithUploader(&uploaderStub{}, "archive", "")
	location, err := store.Save(context.Background(), "k.json", "", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if location != "s3://archive/k.json" {
		t.Fatalf("unexpected location %q", location)
	}
}

func TestS3StorageSaveErrors(t *testing.T) {
	store := NewS3StorageWithUploader(&uploaderStub{}, "archive", "")
	if _, err := store.Save(context.Background(), "/", "", strings.NewReader("x")); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}

	failing := NewS3StorageWithUploader(&uploaderStub{err: errors.New("denied")}, "archive", "")
	if _, err := failing.Save(context.Background(), "k", "", strings.NewReader("x")); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected upload error, got %v", err)
	}
}
