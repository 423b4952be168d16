package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func testSite() fstest.MapFS {
	return fstest.MapFS{
		"index.html":         {Data: []byte("<div id=\"root\"></div>")},
		"assets/app-1a2b.js": {Data: []byte("console.log('portal')")},
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestSPAHandler_ServesAssets(t *testing.T) {
	w := get(t, newSPAHandler(testSite()), "/assets/app-1a2b.js")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Cache-Control"), "immutable") {
		t.Errorf("expected immutable caching, got %q", w.Header().Get("Cache-Control"))
	}
}

func TestSPAHandler_FallsBackToIndex(t *testing.T) {
	w := get(t, newSPAHandler(testSite()), "/products/articulated-stapler")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `id="root"`) {
		t.Errorf("expected index.html, got %q", w.Body.String())
	}
}

func TestSPAHandler_UnknownAPIPathIs404(t *testing.T) {
	w := get(t, newSPAHandler(testSite()), "/api/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSPAHandler_Embedded(t *testing.T) {
	w := get(t, SPAHandler(), "/")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
