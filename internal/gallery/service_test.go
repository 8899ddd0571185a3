package gallery

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kagami/internal/feature"
	"github.com/hyperjump/kagami/internal/imagestore"
	"github.com/hyperjump/kagami/internal/index"
	"github.com/hyperjump/kagami/internal/keyword"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/persist"
	"github.com/hyperjump/kagami/internal/storage"
)

const testDims = 32

type testEnv struct {
	svc      *Service
	images   *imagestore.LocalStore
	manager  *index.Manager
	catalog  *storage.SQLiteCatalog
	names    *keyword.BleveIndex
	ext      *feature.MockExtractor
	indexDir string
}

// newTestEnv wires a service over temp directories. Images whose bytes start with "bad" fail to embed.
func newTestEnv(t *testing.T, opts ...index.Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	images, err := imagestore.NewLocalStore(filepath.Join(dir, "images"))
	if err != nil {
		t.Fatal(err)
	}
	ext := feature.NewMockExtractor(testDims)
	ext.FailOn = func(img []byte) error {
		if bytes.HasPrefix(img, []byte("bad")) {
			return errors.New("cannot decode image")
		}
		return nil
	}
	pipe := feature.NewPipeline(testDims, feature.Static(ext, nil), feature.WithCacheSize(0))
	t.Cleanup(func() { _ = pipe.Close() })

	catalog, err := storage.NewSQLiteCatalog(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = catalog.Close() })
	names, err := keyword.NewBleveIndex(filepath.Join(dir, "names"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = names.Close() })

	indexDir := filepath.Join(dir, "index")
	adapter, err := persist.NewAdapter(indexDir, testDims, persist.CodecNone)
	if err != nil {
		t.Fatal(err)
	}
	manager, err := index.NewManager(testDims, append([]index.Option{
		index.WithPersister(adapter),
		index.WithSource(images.Get, pipe),
		index.WithPurge(NewPurger(images, catalog, names, nil)),
		index.WithFlushPolicy(index.Always{}),
	}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	svc := NewService(images, pipe, manager,
		WithCatalog(catalog),
		WithNameIndex(names),
		WithDiskPaths(indexDir, images.Dir()),
	)
	return &testEnv{svc: svc, images: images, manager: manager, catalog: catalog, names: names, ext: ext, indexDir: indexDir}
}

func (e *testEnv) add(t *testing.T, id, data string) {
	t.Helper()
	if _, err := e.svc.Add(context.Background(), &models.ImageInput{ID: id, Data: []byte(data)}); err != nil {
		t.Fatalf("Add(%s): %v", id, err)
	}
}

func (e *testEnv) writeFile(t *testing.T, id, data string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.images.Dir(), id), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestService_AddThenSearchFindsItself(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res, err := env.svc.Add(ctx, &models.ImageInput{ID: "dress.jpg", Folder: "summer", Customer: "acme", Data: []byte("dress pixels")})
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != "dress.jpg" || res.Size != 1 || !res.Durable {
		t.Errorf("AddResponse=%+v", res)
	}
	env.add(t, "skirt.jpg", "skirt pixels")

	out, err := env.svc.Search(ctx, []byte("dress pixels"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if out.Total != 2 || out.IDs[0] != "dress.jpg" {
		t.Fatalf("Search IDs=%v", out.IDs)
	}
	if out.Results[0].Score < 0.999 {
		t.Errorf("self-match score=%f", out.Results[0].Score)
	}
	if out.Results[0].Rank != 1 || out.Results[1].Rank != 2 {
		t.Errorf("ranks %d, %d", out.Results[0].Rank, out.Results[1].Rank)
	}
	meta := out.Results[0].Image
	if meta == nil || meta.Folder != "summer" || meta.Customer != "acme" {
		t.Errorf("hit metadata=%+v", meta)
	}
}

func TestService_SearchEmptyIndex(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.svc.Search(context.Background(), []byte("anything"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if out.Total != 0 || len(out.Results) != 0 {
		t.Errorf("got %+v", out)
	}
	if out.K != DefaultK {
		t.Errorf("K=%d, want default %d", out.K, DefaultK)
	}
}

func TestService_SearchCapsK(t *testing.T) {
	env := newTestEnv(t)
	env.svc.maxK = 3
	out, err := env.svc.Search(context.Background(), []byte("q"), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if out.K != 3 {
		t.Errorf("K=%d, want 3", out.K)
	}
}

func TestService_AddPipelineFailureRemovesBytes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Add(ctx, &models.ImageInput{ID: "broken.jpg", Data: []byte("bad bytes")})
	if !errors.Is(err, index.ErrPipeline) {
		t.Fatalf("err=%v, want ErrPipeline", err)
	}
	if env.manager.Len() != 0 {
		t.Errorf("index size=%d", env.manager.Len())
	}
	if _, err := env.images.Get(ctx, "broken.jpg"); !errors.Is(err, imagestore.ErrNotFound) {
		t.Errorf("stored bytes should be removed, err=%v", err)
	}
}

func TestService_FailedReAddKeepsIndexedBytes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.add(t, "a.jpg", "a")
	env.add(t, "b.jpg", "b")

	if _, err := env.svc.Add(ctx, &models.ImageInput{ID: "a.jpg", Data: []byte("bad a")}); !errors.Is(err, index.ErrPipeline) {
		t.Fatalf("err=%v, want ErrPipeline", err)
	}
	if data, _ := env.images.Get(ctx, "a.jpg"); string(data) != "a" {
		t.Errorf("stored bytes=%q, want the indexed image", data)
	}

	res, err := env.svc.Delete(ctx, "b.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if res.Remaining != 1 || res.Errored != 0 {
		t.Errorf("DeleteResponse=%+v", res)
	}
	if !env.manager.Contains("a.jpg") {
		t.Error("a.jpg dropped by the delete rebuild")
	}
}

func TestService_RejectedAddRestoresPreviousBytes(t *testing.T) {
	env := newTestEnv(t, index.WithRejectDuplicates(true))
	ctx := context.Background()
	env.add(t, "a.jpg", "first")

	_, err := env.svc.Add(ctx, &models.ImageInput{ID: "a.jpg", Data: []byte("second")})
	if !errors.Is(err, index.ErrDuplicate) {
		t.Fatalf("err=%v, want ErrDuplicate", err)
	}
	if data, _ := env.images.Get(ctx, "a.jpg"); string(data) != "first" {
		t.Errorf("stored bytes=%q, want first", data)
	}

	res, err := env.svc.AddBatch(ctx, []*models.ImageInput{
		{ID: "a.jpg", Data: []byte("third")},
		{ID: "c.jpg", Data: []byte("c")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 1 || res.Errored != 1 {
		t.Errorf("got {added %d, errored %d}, want {1, 1}", res.Added, res.Errored)
	}
	if data, _ := env.images.Get(ctx, "a.jpg"); string(data) != "first" {
		t.Errorf("stored bytes after batch=%q, want first", data)
	}
}

func TestService_LockSerializesSameID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unlock := env.svc.lock("x.jpg")
	if !env.svc.busy("x.jpg") {
		t.Error("locked id should be busy")
	}
	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Add(ctx, &models.ImageInput{ID: "x.jpg", Data: []byte("x")})
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("Add finished while the id was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if env.svc.busy("x.jpg") {
		t.Error("lock not released")
	}
}

func TestService_ConcurrentAddDeleteKeepsBytesForIndexedIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.add(t, "other.jpg", "other")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = env.svc.Add(ctx, &models.ImageInput{ID: "x.jpg", Data: []byte("x")})
		}()
		go func() {
			defer wg.Done()
			_, _ = env.svc.Delete(ctx, "x.jpg")
		}()
	}
	wg.Wait()

	if env.manager.Contains("x.jpg") {
		if _, err := env.images.Get(ctx, "x.jpg"); err != nil {
			t.Errorf("x.jpg indexed without bytes: %v", err)
		}
	}
	if !env.manager.Contains("other.jpg") {
		t.Error("other.jpg lost")
	}
}

func TestService_AddRejectsEmpty(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Add(context.Background(), &models.ImageInput{ID: "x.jpg"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err=%v", err)
	}
}

func TestService_AddBatchSingleFailingItem(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.svc.AddBatch(context.Background(), []*models.ImageInput{
		{ID: "broken.jpg", Data: []byte("bad image")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 0 || res.Errored != 1 {
		t.Errorf("got {added %d, errored %d}, want {0, 1}", res.Added, res.Errored)
	}
	if len(res.IDs) != 0 {
		t.Errorf("IDs=%v", res.IDs)
	}
}

func TestService_AddBatchPartial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res, err := env.svc.AddBatch(ctx, []*models.ImageInput{
		{ID: "a.jpg", Data: []byte("a")},
		{ID: "b.jpg", Data: []byte("bad b")},
		{ID: "c.jpg", Data: []byte("c")},
		{ID: "", Data: nil},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 2 || res.Errored != 2 {
		t.Fatalf("got {added %d, errored %d}, want {2, 2}: %+v", res.Added, res.Errored, res.Errors)
	}
	if strings.Join(res.IDs, ",") != "a.jpg,c.jpg" {
		t.Errorf("IDs=%v", res.IDs)
	}
	if env.manager.Len() != 2 {
		t.Errorf("index size=%d", env.manager.Len())
	}
	stored, _ := env.images.List(ctx)
	if strings.Join(stored, ",") != "a.jpg,c.jpg" {
		t.Errorf("stored=%v", stored)
	}
	if n, _ := env.catalog.Count(ctx); n != 2 {
		t.Errorf("catalog rows=%d", n)
	}
}

func TestService_RebuildSkipsUnreadableImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.writeFile(t, "one.jpg", "one")
	env.writeFile(t, "two.png", "bad two")
	env.writeFile(t, "three.webp", "three")
	env.writeFile(t, "three_crop.jpg", "crop")

	res, err := env.svc.Rebuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.Errored != 1 || res.Total != 2 {
		t.Errorf("RebuildResponse=%+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].ID != "two.png" {
		t.Errorf("Errors=%+v", res.Errors)
	}
	if n, _ := env.catalog.Count(ctx); n != 2 {
		t.Errorf("catalog rows=%d, want 2", n)
	}
	img, err := env.svc.Get(ctx, "one.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if img.Size != 3 || img.Folder != models.DefaultFolder {
		t.Errorf("catalog row=%+v", img)
	}
}

func TestService_SyncAddsOnlyNewImages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.add(t, "a.jpg", "a")
	env.writeFile(t, "b.jpg", "b")
	calls := env.ext.Calls()

	res, err := env.svc.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.Total != 2 {
		t.Errorf("SyncResponse=%+v", res)
	}
	if got := env.ext.Calls() - calls; got != 1 {
		t.Errorf("embedded %d images, want 1", got)
	}
}

func TestService_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.add(t, "a.jpg", "a")
	env.add(t, "b.jpg", "b")
	env.add(t, "c.jpg", "c")

	res, err := env.svc.Delete(ctx, "b.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if res.Remaining != 2 || res.Errored != 0 {
		t.Errorf("DeleteResponse=%+v", res)
	}
	out, _ := env.svc.Search(ctx, []byte("b"), 10)
	for _, id := range out.IDs {
		if id == "b.jpg" {
			t.Error("deleted image still returned by search")
		}
	}
	out, _ = env.svc.Search(ctx, []byte("c"), 1)
	if len(out.IDs) != 1 || out.IDs[0] != "c.jpg" {
		t.Errorf("remaining image should still self-match, got %v", out.IDs)
	}
	if _, err := env.images.Get(ctx, "b.jpg"); !errors.Is(err, imagestore.ErrNotFound) {
		t.Errorf("bytes should be removed, err=%v", err)
	}
	if _, err := env.catalog.Get(ctx, "b.jpg"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("catalog row should be removed, err=%v", err)
	}

	if _, err := env.svc.Delete(ctx, "b.jpg"); !errors.Is(err, index.ErrNotFound) {
		t.Errorf("second delete err=%v, want ErrNotFound", err)
	}
	if _, err := env.svc.Delete(ctx, "../etc"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("invalid id err=%v", err)
	}
}

func TestService_ResetIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.add(t, "a.jpg", "a")
	env.add(t, "b.jpg", "b")

	for i := 0; i < 2; i++ {
		res, err := env.svc.Reset(ctx)
		if err != nil {
			t.Fatalf("Reset #%d: %v", i+1, err)
		}
		if !res.Durable || res.Warning != "" {
			t.Errorf("Reset #%d: %+v", i+1, res)
		}
		if env.manager.Len() != 0 {
			t.Errorf("index size=%d", env.manager.Len())
		}
		stored, _ := env.images.List(ctx)
		if len(stored) != 0 {
			t.Errorf("stored images=%v", stored)
		}
		if n, _ := env.catalog.Count(ctx); n != 0 {
			t.Errorf("catalog rows=%d", n)
		}
		if n, _ := env.names.DocCount(); n != 0 {
			t.Errorf("name docs=%d", n)
		}
	}
	out, err := env.svc.Search(ctx, []byte("a"), 5)
	if err != nil || out.Total != 0 {
		t.Errorf("search after reset: %+v, %v", out, err)
	}
}

func TestService_Lookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.Add(ctx, &models.ImageInput{ID: "red_summer-dress.jpg", Folder: "summer", Data: []byte("r")}); err != nil {
		t.Fatal(err)
	}
	env.add(t, "blue-skirt.jpg", "s")

	found, err := env.svc.Lookup(ctx, &models.LookupQuery{Query: "dress"})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "red_summer-dress.jpg" {
		t.Fatalf("Lookup=%+v", found)
	}
	if found[0].Image == nil || found[0].Image.Folder != "summer" {
		t.Errorf("lookup metadata=%+v", found[0].Image)
	}
	if _, err := env.svc.Lookup(ctx, &models.LookupQuery{Query: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty query err=%v", err)
	}
}

func TestService_GetAndRaw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.add(t, "a.jpg", "a bytes")

	img, err := env.svc.Get(ctx, "a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if img.Size != int64(len("a bytes")) || img.Checksum == "" {
		t.Errorf("Get=%+v", img)
	}
	data, err := env.svc.Raw(ctx, "a.jpg")
	if err != nil || string(data) != "a bytes" {
		t.Errorf("Raw=%q, %v", data, err)
	}
	if _, err := env.svc.Get(ctx, "missing.jpg"); !errors.Is(err, index.ErrNotFound) {
		t.Errorf("missing err=%v", err)
	}
}

func TestService_IndexStoredAndForgetStored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.writeFile(t, "dropped.jpg", "dropped")

	if err := env.svc.IndexStored(ctx, "dropped.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.IndexStored(ctx, "dropped.jpg"); err != nil {
		t.Fatal(err)
	}
	if env.manager.Len() != 1 {
		t.Fatalf("index size=%d, want 1", env.manager.Len())
	}
	if err := env.svc.IndexStored(ctx, "notes.txt"); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(env.images.Dir(), "dropped.jpg")); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ForgetStored(ctx, "dropped.jpg"); err != nil {
		t.Fatal(err)
	}
	if env.manager.Contains("dropped.jpg") {
		t.Error("forgotten image still indexed")
	}
	if n, _ := env.catalog.Count(ctx); n != 0 {
		t.Errorf("catalog rows=%d", n)
	}
}

func TestService_StatusAndReload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.add(t, "a.jpg", "a")
	env.add(t, "b.jpg", "b")

	st := env.svc.Status(ctx)
	if st.IndexSize != 2 || st.State != string(index.StatePopulated) || !st.ModelsReady {
		t.Errorf("Status=%+v", st)
	}
	if st.CatalogImages != 2 || st.NameIndexDocs != 2 || st.ImageBackend != "local" {
		t.Errorf("Status=%+v", st)
	}
	if st.DiskUsageBytes == 0 {
		t.Error("disk usage should be reported")
	}

	adapter, err := persist.NewAdapter(env.indexDir, testDims, persist.CodecNone)
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := index.NewManager(testDims, index.WithPersister(adapter))
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()
	if got := strings.Join(reloaded.IDs(), ","); got != "a.jpg,b.jpg" {
		t.Errorf("reloaded ids=%s", got)
	}
}

func TestResolveID(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nrest")
	tests := []struct {
		name    string
		in      models.ImageInput
		want    string
		wantErr bool
	}{
		{"keeps name", models.ImageInput{ID: "dress.jpg", Data: []byte("x")}, "dress.jpg", false},
		{"strips path", models.ImageInput{ID: "../up/dress.jpg", Data: []byte("x")}, "dress.jpg", false},
		{"adds extension", models.ImageInput{ID: "photo", Data: png}, "photo.png", false},
		{"crop artifact", models.ImageInput{ID: "a_crop.jpg", Data: []byte("x")}, "", true},
		{"empty data", models.ImageInput{ID: "a.jpg"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveID(&tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	derived, err := resolveID(&models.ImageInput{Data: png})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(derived, "img-") || !strings.HasSuffix(derived, ".png") {
		t.Errorf("derived id=%q", derived)
	}
}
