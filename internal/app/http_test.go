package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"tomo/api/internal/store"
)

func newTestHandler(fs *fakeStore) (http.Handler, *Service) {
	svc := newTestService(fs)
	return NewHTTPServer(svc, "*", nil).Handler(), svc
}

func authToken(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return session.Token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(&fakeStore{})

	rec := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestUnauthorizedBody(t *testing.T) {
	handler, _ := newTestHandler(&fakeStore{})

	for _, path := range []string{"/me", "/me/projects/u1/123-site"} {
		rec := doJSON(t, handler, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rec.Code)
		}
		payload := decodeResponse(t, rec)
		if payload["message"] != "Unauthorized" || len(payload) != 1 {
			t.Errorf("%s body = %v", path, payload)
		}
	}
}

func TestCreateProjectEndpoint(t *testing.T) {
	fs := &fakeStore{}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodPost, "/me/projects", token, map[string]any{
		"title": "Landing Page",
		"pages": []map[string]string{{"path": "/", "html": "<h1>hi</h1>"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	payload := decodeResponse(t, rec)
	if payload["ok"] != true {
		t.Errorf("ok = %v", payload["ok"])
	}
	path, _ := payload["path"].(string)
	if !strings.HasPrefix(path, "u1/") || !strings.HasSuffix(path, "-landing-page") {
		t.Errorf("path = %q", path)
	}
	space, ok := payload["space"].(map[string]any)
	if !ok {
		t.Fatalf("space missing: %v", payload)
	}
	for _, key := range []string{"files", "pages", "commits", "project"} {
		if _, ok := space[key]; !ok {
			t.Errorf("space missing %q", key)
		}
	}
}

func TestCreateProjectEndpointValidation(t *testing.T) {
	handler, svc := newTestHandler(&fakeStore{})
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodPost, "/me/projects", token, map[string]any{
		"title": "Empty",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["ok"] != false || payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("body = %v", payload)
	}
	if _, ok := payload["error"].(string); !ok {
		t.Errorf("error message missing: %v", payload)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string, string) (store.Project, error) {
			return store.Project{}, sql.ErrNoRows
		},
	}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u2")

	rec := doJSON(t, handler, http.MethodGet, "/me/projects/u1/123-site", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["ok"] != false || payload["code"] != "NOT_FOUND" {
		t.Errorf("body = %v", payload)
	}
}

func TestSaveProjectEndpoint(t *testing.T) {
	fs := &fakeStore{}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodPut, "/me/projects/u1/123-site/save", token, map[string]any{
		"pages": []map[string]string{{"path": "/", "html": "<p>v2</p>"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	commit, ok := payload["commit"].(map[string]any)
	if !ok || commit["title"] != "Manual changes saved" {
		t.Errorf("commit = %v", payload["commit"])
	}
}

func TestUpdateProjectEndpoint(t *testing.T) {
	fs := &fakeStore{}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodPut, "/me/projects/u1/123-site/update", token, map[string]any{
		"pages":       []map[string]string{{"path": "/", "html": "<p>v3</p>"}},
		"commitTitle": "Tweak hero section",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["repoId"] != "u1/123-site" {
		t.Errorf("repoId = %v", payload["repoId"])
	}
	commit := payload["commit"].(map[string]any)
	if commit["title"] != "Tweak hero section" {
		t.Errorf("commit = %v", commit)
	}
}

func TestDeleteProjectEndpoint(t *testing.T) {
	fs := &fakeStore{}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodDelete, "/me/projects/u1/123-site", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["ok"] != true {
		t.Errorf("body = %v", payload)
	}
}

func TestDownloadEndpointHeaders(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, userID, projectID string) (store.Project, error) {
			return store.Project{
				ID:    projectID,
				Slug:  "site",
				Files: []store.File{{Path: "index.html", Content: "<h1>hi</h1>"}},
			}, nil
		},
	}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodGet, "/me/projects/u1/123-site/download", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="site.zip"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty body")
	}
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, writer.FormDataContentType()
}

func doMultipart(t *testing.T, handler http.Handler, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestUploadImagesEndpoint(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, userID, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, UserID: userID}, nil
		},
	}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	body, contentType := multipartBody(t, "images", "logo.png", "image/png", []byte("img"))
	rec := doMultipart(t, handler, "/me/projects/u1/123-site/images", token, body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	uploaded, ok := payload["uploadedFiles"].([]any)
	if !ok || len(uploaded) != 1 {
		t.Fatalf("uploadedFiles = %v", payload["uploadedFiles"])
	}
	if url, _ := uploaded[0].(string); !strings.Contains(url, "123-site/images/logo.png") {
		t.Errorf("url = %v", uploaded[0])
	}
}

func TestUploadImagesRejectsUnsupportedType(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, userID, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, UserID: userID}, nil
		},
	}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	body, contentType := multipartBody(t, "images", "notes.txt", "text/plain", []byte("hello"))
	rec := doMultipart(t, handler, "/me/projects/u1/123-site/images", token, body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["code"] != "UNSUPPORTED_MEDIA" {
		t.Errorf("body = %v", payload)
	}
}

func TestUploadImagesRequiresFiles(t *testing.T) {
	handler, svc := newTestHandler(&fakeStore{})
	token := authToken(t, svc, "u1")

	body, contentType := multipartBody(t, "attachments", "x.png", "image/png", []byte("img"))
	rec := doMultipart(t, handler, "/me/projects/u1/123-site/images", token, body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["error"] != "No files uploaded" {
		t.Errorf("body = %v", payload)
	}
}

func TestUploadScreenshotEndpoint(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, userID, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, UserID: userID}, nil
		},
	}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	body, contentType := multipartBody(t, "screenshot", "shot.png", "image/png", []byte("png"))
	rec := doMultipart(t, handler, "/me/projects/u1/123-site/screenshot", token, body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if url, _ := payload["screenshotUrl"].(string); !strings.Contains(url, "123-site/screenshots/") {
		t.Errorf("screenshotUrl = %v", payload["screenshotUrl"])
	}
}

func TestUploadScreenshotRequiresFile(t *testing.T) {
	handler, svc := newTestHandler(&fakeStore{})
	token := authToken(t, svc, "u1")

	body, contentType := multipartBody(t, "other", "shot.png", "image/png", []byte("png"))
	rec := doMultipart(t, handler, "/me/projects/u1/123-site/screenshot", token, body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["error"] != "Screenshot file is required" {
		t.Errorf("body = %v", payload)
	}
}

func TestCaptureScreenshotEndpointNoIndexPage(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, userID, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, Pages: []store.Page{{Path: "about", HTML: "<p>x</p>"}}}, nil
		},
	}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodPost, "/me/projects/u1/123-site/screenshot/capture", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["code"] != "NOT_FOUND" {
		t.Errorf("body = %v", payload)
	}
}

func TestSearchEndpointValidation(t *testing.T) {
	handler, svc := newTestHandler(&fakeStore{})
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodGet, "/me/projects/search?q=hi&limit=abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/me/projects/search?q=hi", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if _, ok := payload["results"]; !ok {
		t.Errorf("body = %v", payload)
	}
}

func TestSessionEndpoint(t *testing.T) {
	handler, svc := newTestHandler(&fakeStore{})

	rec := doJSON(t, handler, http.MethodGet, "/api/session", "", nil)
	if payload := decodeResponse(t, rec); payload["authenticated"] != false {
		t.Errorf("anonymous body = %v", payload)
	}

	token := authToken(t, svc, "u1")
	rec = doJSON(t, handler, http.MethodGet, "/api/session", token, nil)
	payload := decodeResponse(t, rec)
	if payload["authenticated"] != true || payload["userId"] != "u1" {
		t.Errorf("authenticated body = %v", payload)
	}
}

func TestSessionRefreshEndpoint(t *testing.T) {
	fs := &fakeStore{}
	handler, svc := newTestHandler(fs)

	session, err := svc.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]string{
		"refreshToken": session.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["token"] == "" || payload["refreshToken"] == session.RefreshToken {
		t.Errorf("body = %v", payload)
	}

	// Rotated: the old refresh token no longer works.
	rec = doJSON(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]string{
		"refreshToken": session.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("reuse status = %d, want 401", rec.Code)
	}
}

func TestMeEndpoint(t *testing.T) {
	fs := &fakeStore{
		listProjectsFn: func(context.Context, string) ([]store.Project, error) {
			return []store.Project{{ID: "123-site", Name: "Site", Slug: "site"}}, nil
		},
	}
	handler, svc := newTestHandler(fs)
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodGet, "/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	user, ok := payload["user"].(map[string]any)
	if !ok || user["id"] != "u1" {
		t.Errorf("user = %v", payload["user"])
	}
	projects, ok := payload["projects"].([]any)
	if !ok || len(projects) != 1 {
		t.Errorf("projects = %v", payload["projects"])
	}
}

func TestCORSAndRequestID(t *testing.T) {
	handler, _ := newTestHandler(&fakeStore{})

	rec := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing")
	}

	rec = doJSON(t, handler, http.MethodOptions, "/me/projects", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	handler, svc := newTestHandler(&fakeStore{})
	token := authToken(t, svc, "u1")

	rec := doJSON(t, handler, http.MethodGet, "/me/unknown", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["ok"] != false {
		t.Errorf("body = %v", payload)
	}
}
