package imageapi_test

import (
	"bytes"
	"context"
	goimage "image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/whspr/klingfisher/internal/cache/memory"
	"github.com/whspr/klingfisher/internal/downloader"
	"github.com/whspr/klingfisher/internal/health"
	"github.com/whspr/klingfisher/internal/hmac"
	"github.com/whspr/klingfisher/internal/image"
	api "github.com/whspr/klingfisher/internal/imageapi"
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/params"
	"github.com/whspr/klingfisher/internal/queue"
	"github.com/whspr/klingfisher/internal/storage/mock"
	"github.com/whspr/klingfisher/internal/tracing/test"
	"go.uber.org/zap"
)

const errorHeaders = "private, no-cache, no-store, must-revalidate"

func fixture(t *testing.T) []byte {
	t.Helper()

	img := goimage.NewNRGBA(goimage.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.NRGBA{uint8(x * 6), uint8(y * 8), 128, 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func setup(t *testing.T, h *hmac.HMAC) http.Handler {
	t.Helper()

	log := logger.New(zap.FatalLevel)
	tracer := test.Tracer(log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	workerQueue := queue.New(ctx, 2)
	go workerQueue.Run()

	storageProvider := &mock.Provider{Data: map[string][]byte{
		"1":       fixture(t),
		"corrupt": []byte("not an image"),
	}}

	d, err := downloader.New(downloader.Config{
		Cache:  image.NewCache(tracer, memory.New(), storageProvider),
		Queue:  workerQueue,
		Log:    log,
		Tracer: tracer,
	})
	if err != nil {
		t.Fatal(err)
	}

	checker := &health.Checker{Ctx: ctx, Storage: storageProvider, ImageID: "1", Log: log}

	return (&api.API{
		Downloader:     d,
		HealthChecker:  checker,
		Log:            log,
		Tracer:         tracer,
		HandlerTimeout: time.Minute,
		HMAC:           h,
	}).Router()
}

func TestAPI(t *testing.T) {
	router := setup(t, nil)

	tests := []struct {
		Name             string
		URL              string
		ExpectedStatus   int
		ExpectedResponse string
	}{
		{"404", "/asdf", http.StatusNotFound, "page not found\n"},
		{"nonexistant image", "/id/nonexistant/200/300.jpg", http.StatusNotFound, "Image does not exist\n"},
		{"storage error", "/id/error/200/300.jpg", http.StatusInternalServerError, "Something went wrong\n"},
		{"corrupt image", "/id/corrupt/200/300.jpg", http.StatusInternalServerError, "Something went wrong\n"},
		{"invalid size", "/id/1/0/300.jpg", http.StatusBadRequest, "Invalid size\n"},
		{"too large", "/id/1/6000/300.jpg", http.StatusBadRequest, "Invalid size\n"},
		{"invalid extension", "/id/1/200/300.webp", http.StatusBadRequest, "Invalid file extension\n"},
		{"invalid blur", "/id/1/200/300.jpg?blur=11", http.StatusBadRequest, "Invalid blur amount\n"},
	}

	for _, test := range tests {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", test.URL, nil)
		router.ServeHTTP(w, req)

		if w.Code != test.ExpectedStatus {
			t.Errorf("%s: wrong response code, %#v", test.Name, w.Code)
			continue
		}

		if cacheControl := w.Header().Get("Cache-Control"); cacheControl != errorHeaders {
			t.Errorf("%s: wrong cache header, %#v", test.Name, cacheControl)
		}

		if w.Body.String() != test.ExpectedResponse {
			t.Errorf("%s: wrong response %#v", test.Name, w.Body.String())
		}
	}

	imageTests := []struct {
		Name                       string
		URL                        string
		ExpectedWidth              int
		ExpectedHeight             int
		ExpectedContentDisposition string
		ExpectedContentType        string
	}{
		{"/id/:id/:size", "/id/1/20", 20, 20, "inline; filename=\"1-20x20.jpg\"", "image/jpeg"},
		{"/id/:id/:width/:height.jpg", "/id/1/20/12.jpg", 20, 12, "inline; filename=\"1-20x12.jpg\"", "image/jpeg"},
		{"/id/:id/:width/:height.png", "/id/1/20/12.png", 20, 12, "inline; filename=\"1-20x12.png\"", "image/png"},
		{"/id/:id/:width/:height.jpg?blur=5", "/id/1/20/20.jpg?blur=5", 20, 20, "inline; filename=\"1-20x20-blur_5.jpg\"", "image/jpeg"},
		{"/id/:id/:width/:height.png?grayscale", "/id/1/20/20.png?grayscale", 20, 20, "inline; filename=\"1-20x20-grayscale.png\"", "image/png"},
		{"/id/:id/:width/:height.jpg?blur&grayscale&decode", "/id/1/20/20.jpg?blur&grayscale&decode", 20, 20, "inline; filename=\"1-20x20-blur_5-grayscale.jpg\"", "image/jpeg"},
	}

	for _, test := range imageTests {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", test.URL, nil)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%s: wrong response code, %#v", test.Name, w.Code)
			continue
		}

		if contentType := w.Header().Get("Content-Type"); contentType != test.ExpectedContentType {
			t.Errorf("%s: wrong content type, %#v", test.Name, contentType)
		}

		if cacheControl := w.Header().Get("Cache-Control"); cacheControl != "public, max-age=2592000" {
			t.Errorf("%s: wrong cache header, %#v", test.Name, cacheControl)
		}

		if contentDisposition := w.Header().Get("Content-Disposition"); contentDisposition != test.ExpectedContentDisposition {
			t.Errorf("%s: wrong content disposition header, %#v", test.Name, contentDisposition)
		}

		if imageID := w.Header().Get("Image-ID"); imageID != "1" {
			t.Errorf("%s: wrong image id header, %#v", test.Name, imageID)
		}

		var (
			img goimage.Image
			err error
		)
		if test.ExpectedContentType == "image/png" {
			img, err = png.Decode(w.Body)
		} else {
			img, err = jpeg.Decode(w.Body)
		}
		if err != nil {
			t.Errorf("%s: error decoding response %s", test.Name, err)
			continue
		}

		if img.Bounds().Dx() != test.ExpectedWidth || img.Bounds().Dy() != test.ExpectedHeight {
			t.Errorf("%s: wrong image size %v", test.Name, img.Bounds())
		}
	}
}

func TestETag(t *testing.T) {
	router := setup(t, nil)

	get := func(url string, etag string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", url, nil)
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		router.ServeHTTP(w, req)
		return w
	}

	first := get("/id/1/20/20.jpg?grayscale", "")
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no etag")
	}

	if other := get("/id/1/20/20.jpg", "").Header().Get("ETag"); other == etag {
		t.Error("different processing has the same etag")
	}

	if other := get("/id/1/20/20.png?grayscale", "").Header().Get("ETag"); other == etag {
		t.Error("different formats have the same etag")
	}

	if w := get("/id/1/20/20.jpg?grayscale", etag); w.Code != http.StatusNotModified {
		t.Errorf("wrong response code for matching etag, %#v", w.Code)
	}
}

func TestHMAC(t *testing.T) {
	h := &hmac.HMAC{Key: []byte("test")}
	router := setup(t, h)

	signed, err := params.HMAC(h, "/id/1/20/20.jpg", url.Values{"grayscale": {""}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		Name           string
		URL            string
		ExpectedStatus int
	}{
		{"signed", signed, http.StatusOK},
		{"unsigned", "/id/1/20/20.jpg?grayscale", http.StatusBadRequest},
		{"tampered", signed + "&blur", http.StatusBadRequest},
	}

	for _, test := range tests {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", test.URL, nil)
		router.ServeHTTP(w, req)

		if w.Code != test.ExpectedStatus {
			t.Errorf("%s: wrong response code, %#v", test.Name, w.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	router := setup(t, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	// The checker has not run yet
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("wrong response code, %#v", w.Code)
	}

	if contentType := w.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("wrong content type, %#v", contentType)
	}
}
