package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge-io/harrier/internal/jobs"
)

func testSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
			<a href="/docs">Docs</a>
			<a href="/docs">Docs again</a>
			<a href="/about#team">About</a>
			<a href="https://elsewhere.example/off-site">External</a>
			<a href="mailto:team@example.com">Mail</a>
			<a href="javascript:void(0)">JS</a>
			<a href="#top">Top</a>
		</body></html>`)
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Docs</title></head><body><a href="/docs/deep">Deep</a></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>About</title></head><body></body></html>`)
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"not":"html"}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func payloadFor(serverURL string, extra string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"url":%q%s}`, serverURL, extra))
}

func TestSeedURLs(t *testing.T) {
	t.Parallel()

	s := New(nil)

	t.Run("entry url only", func(t *testing.T) {
		seeds, err := s.SeedURLs(context.Background(), json.RawMessage(`{"url":"https://example.com"}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"https://example.com"}, seeds)
	})

	t.Run("invalid payload surfaces", func(t *testing.T) {
		_, err := s.SeedURLs(context.Background(), json.RawMessage(`{}`))
		assert.Error(t, err)
	})

	t.Run("unreachable sitemap falls back to entry url", func(t *testing.T) {
		seeds, err := s.SeedURLs(context.Background(),
			json.RawMessage(`{"url":"https://nonexistent.invalid","use_sitemap":true}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"https://nonexistent.invalid"}, seeds)
	})
}

func TestCrawlBatch(t *testing.T) {
	t.Parallel()

	server := testSite(t)
	s := New(nil)
	ctx := context.Background()

	t.Run("extracts title and same-host links", func(t *testing.T) {
		batch := []jobs.FrontierEntry{{URL: server.URL, Depth: 0}}

		results, err := s.CrawlBatch(ctx, payloadFor(server.URL, ""), batch)
		require.NoError(t, err)
		require.Len(t, results, 1)

		res := results[0]
		assert.Equal(t, server.URL, res.URL)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "Home", res.Title)
		assert.Empty(t, res.Error)

		// Duplicates collapse, fragments strip, off-site/mailto/javascript
		// links never surface
		assert.Equal(t, []string{server.URL + "/docs", server.URL + "/about"}, res.Links)
	})

	t.Run("results preserve batch order", func(t *testing.T) {
		batch := []jobs.FrontierEntry{
			{URL: server.URL + "/about", Depth: 1},
			{URL: server.URL + "/docs", Depth: 1},
		}

		results, err := s.CrawlBatch(ctx, payloadFor(server.URL, ""), batch)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, server.URL+"/about", results[0].URL)
		assert.Equal(t, server.URL+"/docs", results[1].URL)
	})

	t.Run("depth budget stops link discovery", func(t *testing.T) {
		batch := []jobs.FrontierEntry{{URL: server.URL + "/docs", Depth: 1}}

		results, err := s.CrawlBatch(ctx, payloadFor(server.URL, `,"max_depth":1`), batch)
		require.NoError(t, err)
		require.Len(t, results, 1)

		// The page was fetched but its links would exceed the budget
		assert.Equal(t, http.StatusOK, results[0].StatusCode)
		assert.Empty(t, results[0].Links)
	})

	t.Run("non-HTML content yields no links", func(t *testing.T) {
		batch := []jobs.FrontierEntry{{URL: server.URL + "/data.json", Depth: 0}}

		results, err := s.CrawlBatch(ctx, payloadFor(server.URL, ""), batch)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, http.StatusOK, results[0].StatusCode)
		assert.Empty(t, results[0].Links)
		assert.Empty(t, results[0].Title)
	})

	t.Run("fetch failure is a result, not a batch error", func(t *testing.T) {
		batch := []jobs.FrontierEntry{{URL: server.URL + "/missing", Depth: 0}}

		results, err := s.CrawlBatch(ctx, payloadFor(server.URL, ""), batch)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, http.StatusNotFound, results[0].StatusCode)
		assert.NotEmpty(t, results[0].Error)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		results, err := s.CrawlBatch(ctx, payloadFor(server.URL, ""), nil)
		require.NoError(t, err)
		assert.Nil(t, results)
	})
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"https://www.Example.com/path", "example.com", false},
		{"http://sub.example.com", "sub.example.com", false},
		{"https://example.com:8443", "example.com:8443", false},
		{"not a url", "", true},
	}

	for _, tt := range tests {
		host, err := hostOf(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
		} else {
			require.NoError(t, err, tt.raw)
			assert.Equal(t, tt.want, host)
		}
	}
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	assert.True(t, isHTML("text/html"))
	assert.True(t, isHTML("Text/HTML; charset=utf-8"))
	assert.False(t, isHTML("application/json"))
	assert.False(t, isHTML(""))
}
