package changestore_test

import (
	"context"
	"testing"

	"gocloud.dev/blob/fileblob"

	"github.com/graftvcs/graft"
	"github.com/graftvcs/graft/changestore"
)

func openFilesystem(t *testing.T) *changestore.Filesystem {
	t.Helper()
	bucket, err := fileblob.OpenBucket(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("fileblob.OpenBucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return changestore.NewFilesystem(bucket)
}

func TestFilesystemSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := openFilesystem(t)

	change := &graft.Change{
		Header:   graft.Header{Message: "add greeting"},
		Hunks:    []graft.Hunk{},
		Contents: []byte("hello\n"),
	}

	h, err := fs.SaveChange(ctx, change)
	if err != nil {
		t.Fatalf("SaveChange: %v", err)
	}

	got, err := fs.GetChange(ctx, h)
	if err != nil {
		t.Fatalf("GetChange: %v", err)
	}
	if got.Header.Message != change.Header.Message {
		t.Errorf("Header.Message = %q, want %q", got.Header.Message, change.Header.Message)
	}
	if string(got.Contents) != string(change.Contents) {
		t.Errorf("Contents = %q, want %q", got.Contents, change.Contents)
	}

	if !fs.HasContents(ctx, h) {
		t.Error("HasContents = false after SaveChange with non-empty contents")
	}

	data, err := fs.GetContents(ctx, h, 0, graft.ChangePosition(len(change.Contents)))
	if err != nil {
		t.Fatalf("GetContents: %v", err)
	}
	if string(data) != string(change.Contents) {
		t.Errorf("GetContents = %q, want %q", data, change.Contents)
	}
}

func TestFilesystemDeleteChange(t *testing.T) {
	ctx := context.Background()
	fs := openFilesystem(t)

	change := &graft.Change{Header: graft.Header{Message: "tmp"}}
	h, err := fs.SaveChange(ctx, change)
	if err != nil {
		t.Fatalf("SaveChange: %v", err)
	}

	deleted, err := fs.DeleteChange(ctx, h)
	if err != nil || !deleted {
		t.Fatalf("DeleteChange = %v, %v, want true, nil", deleted, err)
	}

	if _, err := fs.GetChange(ctx, h); err == nil {
		t.Error("GetChange succeeded after DeleteChange")
	}

	deletedAgain, err := fs.DeleteChange(ctx, h)
	if err != nil || deletedAgain {
		t.Errorf("second DeleteChange = %v, %v, want false, nil", deletedAgain, err)
	}
}
