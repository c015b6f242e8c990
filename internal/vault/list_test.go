package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/org/vaultcreds/internal/vaulttest"
	"github.com/org/vaultcreds/pkg/models"
)

func TestGatherSecretsMissingContainerIsEmpty(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.AddToken("tok", 0, false)
	c := testClient(t, srv).WithSession(NewSession("tok"))

	list, err := GatherSecrets(context.Background(), c, "team/7")
	if err != nil {
		t.Fatalf("a missing container is not an error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty list, got %v", list)
	}
}

func TestGatherSecretsEmptyKeySetIsEmpty(t *testing.T) {
	// Unlike the not-found case, the backend answers the list call with an
	// empty key set. Both spell "nothing here yet".
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"data": map[string]any{"keys": []string{}},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, Mounts{KV: "secret", OIDC: "oidc"}).WithSession(NewSession("tok"))
	list, err := GatherSecrets(context.Background(), c, "team/7")
	if err != nil {
		t.Fatalf("an empty key set is not an error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty list, got %v", list)
	}
}

func TestGatherSecretsLabelFallbacks(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.AddToken("tok", 0, false)
	srv.PutSecret("team/7/db", map[string]string{"password": "a"}, nil)
	srv.PutSecret("team/7/db", map[string]string{"password": "b"}, nil)
	srv.PutSecret("team/7/db", map[string]string{"password": "c"},
		map[string]string{"label": "Database", "username": "admin"})
	srv.PutSecret("team/7/wifi", map[string]string{"password": "x"}, nil)

	c := testClient(t, srv).WithSession(NewSession("tok"))
	list, err := GatherSecrets(context.Background(), c, "team/7")
	if err != nil {
		t.Fatalf("GatherSecrets: %v", err)
	}

	want := []models.SecretInfo{
		{ID: "db", Label: "Database", Username: "admin", Version: 3},
		{ID: "wifi", Label: "wifi", Username: "", Version: 1},
	}
	if len(list) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(list), len(want), list)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, list[i], want[i])
		}
	}
}

// listFixture serves a key listing plus per-key metadata with randomized
// latency, recording in-flight concurrency and batch boundaries.
type listFixture struct {
	mu        sync.Mutex
	keys      []string
	fail      map[string]bool
	inFlight  int
	maxSeen   int
	requested []string
}

func (f *listFixture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("list") == "true" {
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"data": map[string]any{"keys": f.keys},
			})
			return
		}

		key := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		f.mu.Lock()
		f.inFlight++
		if f.inFlight > f.maxSeen {
			f.maxSeen = f.inFlight
		}
		f.requested = append(f.requested, key)
		fail := f.fail[key]
		f.mu.Unlock()

		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)

		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"errors":["backend exploded"]}`)
			return
		}
		version := 0
		fmt.Sscanf(key, "key%d", &version) //nolint:errcheck
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"data": map[string]any{
				"current_version": version,
				"custom_metadata": map[string]string{},
			},
		})
	})
}

func TestGatherSecretsBatching(t *testing.T) {
	fix := &listFixture{}
	for i := 1; i <= 12; i++ {
		fix.keys = append(fix.keys, fmt.Sprintf("key%d", i))
	}
	ts := httptest.NewServer(fix.handler())
	defer ts.Close()

	c := New(ts.URL, Mounts{KV: "secret", OIDC: "oidc"}).WithSession(NewSession("tok"))
	list, err := GatherSecrets(context.Background(), c, "team/7")
	if err != nil {
		t.Fatalf("GatherSecrets: %v", err)
	}

	if len(fix.requested) != 12 {
		t.Errorf("issued %d metadata fetches, want 12", len(fix.requested))
	}
	if fix.maxSeen > metadataBatchSize {
		t.Errorf("in-flight fetches peaked at %d, batch size is %d", fix.maxSeen, metadataBatchSize)
	}

	// Result order matches key order regardless of per-key latency.
	if len(list) != 12 {
		t.Fatalf("got %d results, want 12", len(list))
	}
	for i, info := range list {
		if want := fmt.Sprintf("key%d", i+1); info.ID != want {
			t.Errorf("result %d = %q, want %q", i, info.ID, want)
		}
		if info.Version != i+1 {
			t.Errorf("result %d version = %d, want %d", i, info.Version, i+1)
		}
	}

	// Batches are strictly sequential: every key of batch N is requested
	// before any key of batch N+2 could slip in. We verify the grouping by
	// checking each request's batch index is monotonically non-decreasing.
	batchOf := func(key string) int {
		var n int
		fmt.Sscanf(key, "key%d", &n) //nolint:errcheck
		return (n - 1) / metadataBatchSize
	}
	last := 0
	for _, key := range fix.requested {
		b := batchOf(key)
		if b < last {
			t.Errorf("request for %q (batch %d) arrived after batch %d started", key, b, last)
		}
		if b > last {
			last = b
		}
	}
}

func TestGatherSecretsFailedBatchFailsListing(t *testing.T) {
	fix := &listFixture{fail: map[string]bool{"key7": true}}
	for i := 1; i <= 12; i++ {
		fix.keys = append(fix.keys, fmt.Sprintf("key%d", i))
	}
	ts := httptest.NewServer(fix.handler())
	defer ts.Close()

	c := New(ts.URL, Mounts{KV: "secret", OIDC: "oidc"}).WithSession(NewSession("tok"))
	if _, err := GatherSecrets(context.Background(), c, "team/7"); err == nil {
		t.Fatal("a broken batch must fail the whole listing")
	}
}
