package downloader_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	goimage "image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/whspr/klingfisher/internal/aesgcm"
	"github.com/whspr/klingfisher/internal/cache/memory"
	"github.com/whspr/klingfisher/internal/downloader"
	"github.com/whspr/klingfisher/internal/image"
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/queue"
	"github.com/whspr/klingfisher/internal/storage"
	"github.com/whspr/klingfisher/internal/storage/mock"
	"github.com/whspr/klingfisher/internal/tracing/test"
	"go.uber.org/zap"
)

var (
	key = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x11}, 16))
	iv  = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x22}, aesgcm.IVSize))
)

// countingFilter counts how often it is applied
type countingFilter struct {
	id    string
	calls *int32
}

func (c countingFilter) Identifier() string {
	return c.id
}

func (c countingFilter) Filter(img *image.Image) (*image.Image, error) {
	atomic.AddInt32(c.calls, 1)
	return img, nil
}

func fixture(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, goimage.NewGray(goimage.Rect(0, 0, 6, 4))); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func setup(t *testing.T, storageProvider *mock.Provider, key, iv string) *downloader.Downloader {
	t.Helper()

	log := logger.New(zap.ErrorLevel)
	t.Cleanup(func() { log.Sync() })
	tracer := test.Tracer(log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	workerQueue := queue.New(ctx, 1)
	go workerQueue.Run()

	d, err := downloader.New(downloader.Config{
		Cache:  image.NewCache(tracer, memory.New(), storageProvider),
		Queue:  workerQueue,
		Log:    log,
		Tracer: tracer,
		Key:    key,
		IV:     iv,
	})
	if err != nil {
		t.Fatal(err)
	}

	return d
}

func TestDownload(t *testing.T) {
	storageProvider := &mock.Provider{Data: map[string][]byte{"1": fixture(t)}}
	d := setup(t, storageProvider, "", "")

	t.Run("downloads and processes an image", func(t *testing.T) {
		img, err := d.Download(context.Background(), "1", image.Options{
			Processor: image.Chain(nil, image.Resizing{Width: 3, Height: 2}),
		})
		if err != nil {
			t.Fatal(err)
		}

		if img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 {
			t.Errorf("wrong size %v", img.Bounds())
		}
	})

	t.Run("serves later downloads from the cache", func(t *testing.T) {
		if _, err := d.Download(context.Background(), "1", image.Options{}); err != nil {
			t.Fatal(err)
		}

		if n := storageProvider.Gets("1"); n != 1 {
			t.Errorf("storage was hit %d times", n)
		}
	})

	t.Run("returns storage errors", func(t *testing.T) {
		_, err := d.Download(context.Background(), "nonexistant", image.Options{})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("wrong error %v", err)
		}
	})

	t.Run("returns processing errors", func(t *testing.T) {
		storageProvider.Data["invalid"] = []byte("IMG")

		_, err := d.Download(context.Background(), "invalid", image.Options{})
		if err == nil {
			t.Error("no error")
		}
	})

	t.Run("stops waiting when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := d.Download(ctx, "1", image.Options{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("wrong error %v", err)
		}
	})
}

func TestDownloadJoinsPendingFetch(t *testing.T) {
	gate := make(chan struct{})
	storageProvider := &mock.Provider{Data: map[string][]byte{"1": fixture(t)}, Gate: gate}
	d := setup(t, storageProvider, "", "")

	var grayCalls, blurCalls int32
	gray := image.Chain(nil, countingFilter{"gray", &grayCalls})
	blur := image.Chain(nil, countingFilter{"blur", &blurCalls})

	const requests = 6
	var wg sync.WaitGroup
	errs := make(chan error, requests)
	wg.Add(requests)
	for i := 0; i < requests; i++ {
		processor := gray
		if i%2 == 1 {
			processor = blur
		}

		go func() {
			defer wg.Done()
			_, err := d.Download(context.Background(), "1", image.Options{Processor: processor})
			errs <- err
		}()
	}

	deadline := time.Now().Add(5 * time.Second)
	for d.Waiting("1") != requests {
		if time.Now().After(deadline) {
			t.Fatalf("only %d requests joined", d.Waiting("1"))
		}
		time.Sleep(time.Millisecond)
	}

	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}

	if n := storageProvider.Gets("1"); n != 1 {
		t.Errorf("storage was hit %d times", n)
	}

	if grayCalls != 1 || blurCalls != 1 {
		t.Errorf("wrong number of filter invocations %d %d", grayCalls, blurCalls)
	}
}

func TestDownloadEncrypted(t *testing.T) {
	c, err := aesgcm.New(key, iv)
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, err := c.Encrypt(fixture(t))
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte(nil), ciphertext...)
	tampered[len(tampered)-1] ^= 0x01

	storageProvider := &mock.Provider{Data: map[string][]byte{"1": ciphertext, "tampered": tampered}}
	d := setup(t, storageProvider, key, iv)

	if _, err := d.Download(context.Background(), "1", image.Options{}); err != nil {
		t.Error(err)
	}

	var decryptionErr *aesgcm.DecryptionError
	if _, err := d.Download(context.Background(), "tampered", image.Options{}); !errors.As(err, &decryptionErr) {
		t.Errorf("wrong error %v", err)
	}
}

func TestNew(t *testing.T) {
	_, err := downloader.New(downloader.Config{Key: key})

	var configErr *aesgcm.ConfigurationError
	if !errors.As(err, &configErr) {
		t.Errorf("wrong error %v", err)
	}
}
