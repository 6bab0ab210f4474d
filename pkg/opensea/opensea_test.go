package opensea

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/contractooor/internal/testutil"
	"github.com/Sternrassler/contractooor/pkg/checkpoint"
	"github.com/Sternrassler/contractooor/pkg/retry"
	"github.com/Sternrassler/contractooor/pkg/transport"
)

const contract = "0xabc"

var pngBytes = []byte("\x89PNG fake image")

func fastRetry(name string, retries int) retry.Config {
	return retry.Config{Name: name, MaxRetries: retries, Delay: time.Millisecond}
}

func newTestClient(mock *testutil.MockAPI) *Client {
	return New(Config{
		BaseURL:      mock.URL() + "/api/v1",
		MetadataURL:  mock.URL() + "/api/v2/metadata/matic",
		APIKey:       "test-key",
		Retry:        fastRetry("test", 3),
		RefreshRetry: fastRetry("test_refresh", 3),
	}, transport.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = data
	return nil
}

func (s *memStore) metadata(t *testing.T, name string) Metadata {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	if !ok {
		t.Fatalf("%s not stored", name)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	return m
}

type memCursors struct {
	cursors map[string]string
}

func (m *memCursors) LoadCursor(ctx context.Context, source string) (string, error) {
	c, ok := m.cursors[source]
	if !ok {
		return "", checkpoint.ErrNotFound
	}
	return c, nil
}

func (m *memCursors) SaveCursor(ctx context.Context, source, cursor string) error {
	m.cursors[source] = cursor
	return nil
}

func assetJSON(mock *testutil.MockAPI, tokenID string) string {
	return fmt.Sprintf(`{
		"id": %s,
		"token_id": %q,
		"name": "Bunny #%s",
		"image_url": %q,
		"asset_contract": {"address": %q},
		"collection": {"slug": "bunnies"},
		"traits": [{"trait_type": "Ears", "value": "Long"}]
	}`, tokenID, tokenID, tokenID, mock.URL()+"/img/"+tokenID+".png", contract)
}

// setupCollection serves one asset per page for tokenIDs.
func setupCollection(mock *testutil.MockAPI, tokenIDs ...string) {
	var pages []string
	for _, id := range tokenIDs {
		pages = append(pages, "["+assetJSON(mock, id)+"]")
		mock.SetResponse("/img/"+id+".png", testutil.MockResponse{
			StatusCode: http.StatusOK,
			Body:       string(pngBytes),
			Headers:    map[string]string{"Content-Type": "image/png"},
		})
		mock.SetPaginated("/api/v1/asset/"+contract+"/"+id+"/owners", "owners",
			`[{"owner": {"address": "0x01"}, "quantity": "1"}]`,
			`[{"owner": {"address": "0x0`+id+`"}, "quantity": "1"}]`,
		)
	}
	mock.SetPaginated("/api/v1/assets", "assets", pages...)
	mock.SetPaginated("/api/v1/events", "asset_events",
		`[{"event_type": "transfer", "asset": {"id": 1}}]`,
		`[{"event_type": "successful", "asset": {"id": 1}}]`,
	)
}

func TestDownloadCollection(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	setupCollection(mock, "1", "2")

	store := newMemStore()
	report, err := newTestClient(mock).DownloadCollection(context.Background(), "bunnies", store, DownloadOptions{Concurrency: 1})
	if err != nil {
		t.Fatalf("DownloadCollection() error = %v", err)
	}

	if report.Pages != 2 || report.Assets != 2 || len(report.Failures) != 0 {
		t.Errorf("report = %+v, want 2 pages, 2 assets, no failures", report)
	}
	for _, name := range []string{"1.png", "2.png"} {
		if string(store.files[name]) != string(pngBytes) {
			t.Errorf("%s = %q, want image bytes", name, store.files[name])
		}
	}

	meta := store.metadata(t, "2.json")
	if meta.ID != "2" || meta.Name != "Bunny #2" || meta.Image != "./2.png" {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.OriginalContractAddress != contract || meta.OriginalTokenID != "2" {
		t.Errorf("original = %s/%s", meta.OriginalContractAddress, meta.OriginalTokenID)
	}
	if len(meta.Attributes) != 1 || meta.Attributes[0].TraitType != "Ears" {
		t.Errorf("attributes = %+v", meta.Attributes)
	}
	if len(meta.Owners) != 2 || meta.Owners[1].Owner.Address != "0x02" {
		t.Errorf("owners = %+v, want both owner pages", meta.Owners)
	}
	if len(meta.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(meta.Events))
	}
	for _, ev := range meta.Events {
		if _, ok := ev["asset"]; ok {
			t.Error("event still carries the embedded asset")
		}
	}
}

func TestDownloadCollection_IsolatesFailedAsset(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	setupCollection(mock, "1", "2", "3")
	mock.SetResponse("/img/2.png", testutil.MockResponse{StatusCode: http.StatusNotFound})

	store := newMemStore()
	report, err := newTestClient(mock).DownloadCollection(context.Background(), "bunnies", store, DownloadOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("DownloadCollection() error = %v", err)
	}

	if len(report.Failures) != 1 || report.Failures[0].Item.TokenID != "2" {
		t.Fatalf("failures = %+v, want token 2 only", report.Failures)
	}
	var statusErr *transport.StatusError
	if !errors.As(report.Failures[0].Err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("failure error = %v, want 404 StatusError", report.Failures[0].Err)
	}
	if got := mock.GetPathCount("/img/2.png"); got != 1 {
		t.Errorf("404 image fetched %d times, want 1", got)
	}
	for _, name := range []string{"1.json", "3.json"} {
		if _, ok := store.files[name]; !ok {
			t.Errorf("%s not stored", name)
		}
	}
	if _, ok := store.files["2.json"]; ok {
		t.Error("metadata stored for failed asset")
	}
}

func TestDownloadCollection_ResumesFromCursor(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	setupCollection(mock, "1", "2", "3")

	cursors := &memCursors{cursors: map[string]string{"assets/bunnies": "c1"}}
	store := newMemStore()
	report, err := newTestClient(mock).DownloadCollection(context.Background(), "bunnies", store, DownloadOptions{Cursors: cursors})
	if err != nil {
		t.Fatalf("DownloadCollection() error = %v", err)
	}

	if report.Pages != 2 {
		t.Errorf("pages = %d, want 2", report.Pages)
	}
	if got := mock.GetPathCount("/img/1.png"); got != 0 {
		t.Errorf("asset on the completed page fetched %d times", got)
	}
	if got := cursors.cursors["assets/bunnies"]; got != "" {
		t.Errorf("cursor after completion = %q, want empty", got)
	}
}

func TestDownloadCollection_RetriesRateLimitedPage(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/api/v1/assets",
		testutil.NewRateLimitResponse(0),
		testutil.NewJSONResponse(`{"assets": [], "next": null}`),
	)

	report, err := newTestClient(mock).DownloadCollection(context.Background(), "bunnies", newMemStore(), DownloadOptions{})
	if err != nil {
		t.Fatalf("DownloadCollection() error = %v", err)
	}
	if report.Pages != 1 || report.Assets != 0 {
		t.Errorf("report = %+v", report)
	}
	if got := mock.GetPathCount("/api/v1/assets"); got != 2 {
		t.Errorf("assets requests = %d, want 2", got)
	}
	if got := mock.LastRequestHeader().Get("X-API-KEY"); got != "test-key" {
		t.Errorf("X-API-KEY = %q", got)
	}
}

func TestDownloadCollection_PageFailureStops(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/api/v1/assets", testutil.NewServerErrorResponse())

	_, err := newTestClient(mock).DownloadCollection(context.Background(), "bunnies", newMemStore(), DownloadOptions{})
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("DownloadCollection() error = %v, want 500 StatusError", err)
	}
	if got := mock.GetPathCount("/api/v1/assets"); got != 4 {
		t.Errorf("assets requests = %d, want 4", got)
	}
}

func TestFetchAssets(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	for _, id := range []string{"5", "6"} {
		mock.SetResponse("/api/v2/metadata/matic/"+contract+"/"+id, testutil.NewJSONResponse(fmt.Sprintf(
			`{"name": "Bunny #%s", "description": "d", "image": %q}`, id, mock.URL()+"/img/"+id)))
		mock.SetResponse("/img/"+id, testutil.MockResponse{
			Body:    "jpeg",
			Headers: map[string]string{"Content-Type": "image/jpeg"},
		})
	}

	store := newMemStore()
	failures, err := newTestClient(mock).FetchAssets(context.Background(), contract, slices.Values([]string{"5", "6", "7"}), store, 6)
	if err != nil {
		t.Fatalf("FetchAssets() error = %v", err)
	}

	if len(failures) != 1 || failures[0].Item != "7" {
		t.Errorf("failures = %+v, want token 7", failures)
	}
	if string(store.files["5.jpeg"]) != "jpeg" {
		t.Errorf("5.jpeg = %q", store.files["5.jpeg"])
	}
	if meta := store.metadata(t, "6.json"); meta.Name != "Bunny #6" {
		t.Errorf("metadata name = %q", meta.Name)
	}
}

func TestRefreshMetadata(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var (
		mu      sync.Mutex
		queries []string
		keys    []string
	)
	ok := func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		keys = append(keys, r.Header.Get("X-API-KEY"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
	mock.SetHandler("/api/v1/asset/"+contract+"/0", ok)
	mock.SetResponse("/api/v1/asset/"+contract+"/1", testutil.NewServerErrorResponse())
	mock.SetHandler("/api/v1/asset/"+contract+"/2", ok)

	failures, err := newTestClient(mock).RefreshMetadata(context.Background(), contract, TokenIDs(0, 3))
	if err != nil {
		t.Fatalf("RefreshMetadata() error = %v", err)
	}

	if len(failures) != 1 || failures[0].Item != "1" {
		t.Fatalf("failures = %+v, want token 1", failures)
	}
	if !errors.Is(failures[0].Err, transport.ErrRetryExhausted) {
		t.Errorf("failure = %v, want ErrRetryExhausted", failures[0].Err)
	}
	if got := mock.GetPathCount("/api/v1/asset/" + contract + "/1"); got != 4 {
		t.Errorf("failing token requested %d times, want 4", got)
	}
	for i, q := range queries {
		if q != "force_update=true" {
			t.Errorf("query = %q", q)
		}
		if keys[i] != "test-key" {
			t.Errorf("X-API-KEY = %q", keys[i])
		}
	}
}

func TestVerifyOwners(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/api/v1/asset/"+contract+"/1/owners", testutil.NewJSONResponse(
		`{"owners": [{"owner": {"address": "0xaa"}, "quantity": "1"}]}`))
	mock.SetResponse("/api/v1/asset/"+contract+"/2/owners", testutil.NewJSONResponse(
		`{"owners": [{"owner": {"address": "0xcc"}, "quantity": "1"}]}`))

	owned := func(id, addr string) Metadata {
		return Metadata{
			Name:                    "Bunny #" + id,
			OriginalContractAddress: contract,
			OriginalTokenID:         id,
			Owners:                  []Owner{{Owner: Account{Address: addr}, Quantity: "1"}},
		}
	}

	client := newTestClient(mock)
	mismatches, err := client.VerifyOwners(context.Background(), []Metadata{owned("1", "0xaa"), owned("2", "0xbb")})
	if err != nil {
		t.Fatalf("VerifyOwners() error = %v", err)
	}
	if len(mismatches) != 1 || mismatches[0].TokenID != "2" || mismatches[0].Live[0].Owner.Address != "0xcc" {
		t.Errorf("mismatches = %+v", mismatches)
	}

	if _, err := client.VerifyOwners(context.Background(), []Metadata{{Name: "orphan"}}); err == nil {
		t.Error("expected error for metadata without origin")
	}
}

func TestRewriteImageURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		host string
		want string
	}{
		{
			name: "cdn url",
			raw:  "https://i.seadn.io/gae/AbC123?w=500&auto=format",
			host: DefaultImageHost,
			want: "https://lh3.googleusercontent.com/AbC123=d",
		},
		{
			name: "no gae segment",
			raw:  "https://openseauserdata.com/files/abc.png",
			host: DefaultImageHost,
			want: "https://lh3.googleusercontent.com/files/abc.png=d",
		},
		{
			name: "empty host keeps url",
			raw:  "http://127.0.0.1:8080/img/1.png?x=1",
			want: "http://127.0.0.1:8080/img/1.png?x=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RewriteImageURL(tt.raw, tt.host)
			if err != nil {
				t.Fatalf("RewriteImageURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("RewriteImageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/png", "png"},
		{"image/jpeg", "jpeg"},
		{"image/gif; charset=binary", "gif"},
		{"image/svg+xml", "svg"},
		{"", "png"},
		{"application/x-nonexistent-type", "bin"},
		{";;", "bin"},
	}

	for _, tt := range tests {
		if got := Extension(tt.contentType); got != tt.want {
			t.Errorf("Extension(%q) = %q, want %q", tt.contentType, got, tt.want)
		}
	}
}

func TestOwnersOf(t *testing.T) {
	meta := func(id string, owners ...string) Metadata {
		m := Metadata{ID: id, Name: "Bunny #" + id}
		for _, o := range owners {
			m.Owners = append(m.Owners, Owner{Owner: Account{Address: o}})
		}
		return m
	}

	got, err := OwnersOf([]Metadata{
		meta("10", "0xa", "0xten"),
		meta("9", "0xnine"),
		meta("100", "0xhundred"),
	})
	if err != nil {
		t.Fatalf("OwnersOf() error = %v", err)
	}

	want := []TokenOwner{{"9", "0xnine"}, {"10", "0xten"}, {"100", "0xhundred"}}
	if !slices.Equal(got, want) {
		t.Errorf("OwnersOf() = %v, want %v", got, want)
	}

	var csvOut, jsonOut strings.Builder
	if err := WriteOwnersCSV(&csvOut, got); err != nil {
		t.Fatalf("WriteOwnersCSV() error = %v", err)
	}
	if want := "tokenId,ownerOf\n9,0xnine\n10,0xten\n100,0xhundred\n"; csvOut.String() != want {
		t.Errorf("csv = %q, want %q", csvOut.String(), want)
	}
	if err := WriteOwnersJSON(&jsonOut, got); err != nil {
		t.Fatalf("WriteOwnersJSON() error = %v", err)
	}
	var addrs []string
	if err := json.Unmarshal([]byte(jsonOut.String()), &addrs); err != nil || len(addrs) != 3 || addrs[0] != "0xnine" {
		t.Errorf("json = %s (%v)", jsonOut.String(), err)
	}

	if _, err := OwnersOf([]Metadata{meta("", "0xa")}); err == nil {
		t.Error("expected error for missing token id")
	}
	if _, err := OwnersOf([]Metadata{meta("1")}); err == nil {
		t.Error("expected error for missing owners")
	}
}

func TestDirStoreAndLoadMetadataDir(t *testing.T) {
	dir := t.TempDir() + "/bunnies"
	store := DirStore{Dir: dir}
	ctx := context.Background()

	for _, id := range []string{"2", "1"} {
		doc, _ := json.Marshal(Metadata{ID: id, Name: "Bunny #" + id})
		if err := store.Put(ctx, id+".json", doc); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if err := store.Put(ctx, "1.png", pngBytes); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	metas, err := LoadMetadataDir(dir)
	if err != nil {
		t.Fatalf("LoadMetadataDir() error = %v", err)
	}
	if len(metas) != 2 || metas[0].ID != "1" || metas[1].ID != "2" {
		t.Errorf("metas = %+v", metas)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := store.Put(cancelled, "x.json", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() on cancelled ctx = %v", err)
	}
}
