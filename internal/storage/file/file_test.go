package file_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"

	"github.com/whspr/klingfisher/internal/storage"
	"github.com/whspr/klingfisher/internal/storage/file"

	"testing"
)

func TestFile(t *testing.T) {
	dir := t.TempDir()
	fixture := []byte("raw image data")
	if err := os.WriteFile(filepath.Join(dir, "1"), fixture, 0o644); err != nil {
		t.Fatal(err)
	}

	provider, err := file.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Get an image by id", func(t *testing.T) {
		buf, err := provider.Get(context.Background(), "1")
		if err != nil {
			t.Fatal(err)
		}

		if !reflect.DeepEqual(buf, fixture) {
			t.Error("image data doesn't match")
		}
	})

	t.Run("Returns error on a nonexistant path", func(t *testing.T) {
		_, err := file.New("")
		if err == nil {
			t.FailNow()
		}
	})

	t.Run("Returns error on a nonexistant image", func(t *testing.T) {
		_, err := provider.Get(context.Background(), "nonexistant")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("wrong error %v", err)
		}
	})

	t.Run("Does not leave the storage directory", func(t *testing.T) {
		for _, id := range []string{"", "..", "../1", "a/b"} {
			_, err := provider.Get(context.Background(), id)
			if !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("%q: wrong error %v", id, err)
			}
		}
	})
}
