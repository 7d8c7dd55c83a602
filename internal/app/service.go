package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"tomo/api/internal/auth"
	"tomo/api/internal/authpw"
	"tomo/api/internal/blob"
	"tomo/api/internal/config"
	"tomo/api/internal/email"
	"tomo/api/internal/export"
	"tomo/api/internal/preview"
	"tomo/api/internal/screenshot"
	"tomo/api/internal/search"
	"tomo/api/internal/store"
	"tomo/api/internal/util"
)

const (
	defaultProjectName       = "TOMO Project"
	defaultProjectDesc       = "Project created with TOMO"
	defaultCreateCommitTitle = "Create new website"
	defaultSaveCommitTitle   = "Manual changes saved"
	defaultUpdateCommitTitle = "AI-generated changes"
)

// indexPagePaths are the paths recognized as a project's entry page.
var indexPagePaths = map[string]struct{}{
	"/":           {},
	"index":       {},
	"/index":      {},
	"index.html":  {},
	"/index.html": {},
}

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	InsertProject(context.Context, store.Project) (store.Project, error)
	UpdateProjectContent(context.Context, string, string, []store.Page, []store.File, store.Commit) (store.Project, error)
	GetProject(context.Context, string, string) (store.Project, error)
	DeleteProject(context.Context, string, string) error
	ListProjects(context.Context, string) ([]store.Project, error)
	UpdateProjectScreenshot(context.Context, string, string, string) error
	Ping(ctx context.Context) error
}

// SessionStore holds refresh sessions. Redis in production, with the
// Postgres store as a fallback when Redis is not configured.
type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type blobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	blob     blobStore
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
	hub      *preview.Hub
	capture  func(context.Context, string) ([]byte, error)
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions SessionStore, blobs *blob.Store, authSvc *authpw.Service, emailSvc *email.Service, searchSvc *search.Service, hub *preview.Hub) *Service {
	var bs blobStore
	if blobs != nil {
		bs = blobs
	}
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		blob:     bs,
		authpw:   authSvc,
		email:    emailSvc,
		search:   searchSvc,
		hub:      hub,
		capture:  screenshot.Capture,
	}
}

// AuthPasswordService exposes the email/password auth service.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// EmailService exposes the transactional mail service.
func (s *Service) EmailService() *email.Service {
	return s.email
}

// SMTPConfigured reports whether outbound email is configured.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues a new access/refresh token pair for a user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session store may hold only the user id.
	full, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, full)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Me returns the authenticated user's profile and their projects.
func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	projects, err := s.store.ListProjects(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		items = append(items, projectPayload(p))
	}

	return map[string]any{
		"user": map[string]any{
			"id":    user.ID,
			"name":  user.DisplayName,
			"email": user.Email,
		},
		"projects": items,
	}, nil
}

// CreateProject persists a new project derived from the submitted pages.
func (s *Service) CreateProject(ctx context.Context, owner, namespace, name string, pages []store.Page, prompt string) (map[string]any, error) {
	if len(pages) == 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Pages are required", nil)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultProjectName
	}
	slug := util.Slugify(name)
	now := time.Now()
	id := util.NewProjectID(slug, now)

	title := strings.TrimSpace(prompt)
	if title == "" {
		title = defaultCreateCommitTitle
	}

	project := store.Project{
		ID:          id,
		UserID:      owner,
		Name:        name,
		Slug:        slug,
		Description: defaultProjectDesc,
		Pages:       pages,
		Files:       store.DeriveFiles(pages),
		LastCommit: store.Commit{
			Title:     title,
			Timestamp: now.UTC().Format(time.RFC3339),
		},
	}

	saved, err := s.store.InsertProject(ctx, project)
	if err != nil {
		return nil, err
	}
	s.indexProject(saved)

	path := namespace + "/" + saved.ID
	return map[string]any{
		"ok":   true,
		"path": path,
		"space": map[string]any{
			"files":   saved.Files,
			"pages":   saved.Pages,
			"commits": commitList(saved),
			"project": map[string]any{
				"id":         saved.ID,
				"space_id":   path,
				"_updatedAt": saved.UpdatedAt.UTC().Format(time.RFC3339),
			},
		},
	}, nil
}

// GetProject returns a project with its pages, file paths and the
// synthesized single-entry commit list.
func (s *Service) GetProject(ctx context.Context, owner, projectID string) (map[string]any, error) {
	p, err := s.store.GetProject(ctx, owner, projectID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"project": projectPayload(p),
		"pages":   p.Pages,
		"files":   filePaths(p.Files),
		"commits": commitList(p),
	}, nil
}

// SaveProject replaces a project's pages with a manual save.
func (s *Service) SaveProject(ctx context.Context, owner, projectID string, pages []store.Page, commitTitle string) (map[string]any, error) {
	updated, err := s.writeProject(ctx, owner, projectID, pages, commitTitle, defaultSaveCommitTitle)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"ok":     true,
		"pages":  updated.Pages,
		"commit": commitPayload(updated.LastCommit),
	}, nil
}

// UpdateProject replaces a project's pages after an AI generation pass.
// When isNew is set, a fresh project is created instead.
func (s *Service) UpdateProject(ctx context.Context, owner, namespace, projectID string, pages []store.Page, commitTitle string, isNew bool, projectName string) (map[string]any, error) {
	if isNew {
		payload, err := s.CreateProject(ctx, owner, namespace, projectName, pages, commitTitle)
		if err != nil {
			return nil, err
		}
		space := payload["space"].(map[string]any)
		project := space["project"].(map[string]any)
		return map[string]any{
			"ok":     true,
			"pages":  space["pages"],
			"repoId": project["space_id"],
			"commit": space["commits"].([]map[string]any)[0],
		}, nil
	}

	updated, err := s.writeProject(ctx, owner, projectID, pages, commitTitle, defaultUpdateCommitTitle)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"ok":     true,
		"pages":  updated.Pages,
		"repoId": namespace + "/" + updated.ID,
		"commit": commitPayload(updated.LastCommit),
	}, nil
}

func (s *Service) writeProject(ctx context.Context, owner, projectID string, pages []store.Page, commitTitle, fallbackTitle string) (store.Project, error) {
	if len(pages) == 0 {
		return store.Project{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Pages are required", nil)
	}

	title := strings.TrimSpace(commitTitle)
	if title == "" {
		title = fallbackTitle
	}
	commit := store.Commit{
		Title:     title,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	updated, err := s.store.UpdateProjectContent(ctx, owner, projectID, pages, store.DeriveFiles(pages), commit)
	if err != nil {
		return store.Project{}, err
	}
	s.indexProject(updated)
	return updated, nil
}

// DeleteProject removes a project. Deleting a missing project is not
// an error.
func (s *Service) DeleteProject(ctx context.Context, owner, projectID string) (map[string]any, error) {
	if err := s.store.DeleteProject(ctx, owner, projectID); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	if s.hub != nil {
		s.hub.CloseProject(projectID)
	}
	return map[string]any{"ok": true}, nil
}

// DownloadProject packages a project's files into a zip archive.
func (s *Service) DownloadProject(ctx context.Context, owner, projectID string) (export.Result, error) {
	p, err := s.store.GetProject(ctx, owner, projectID)
	if err != nil {
		return export.Result{}, err
	}
	result, err := export.BuildZip(p.Files, export.ArchiveName(p.Slug, p.Name, p.ID))
	if err != nil {
		return export.Result{}, domainError(http.StatusInternalServerError, "EXPORT_FAILED", "Could not build archive", nil)
	}
	return result, nil
}

// UploadMedia stores one uploaded media file and returns its public URL.
func (s *Service) UploadMedia(ctx context.Context, owner, projectID, filename, contentType string, data []byte) (string, error) {
	if _, err := s.store.GetProject(ctx, owner, projectID); err != nil {
		return "", err
	}

	folder, ok := blob.MediaFolder(contentType)
	if !ok {
		return "", domainError(http.StatusBadRequest, "UNSUPPORTED_MEDIA", "Only image, video and audio uploads are supported", nil)
	}
	if s.blob == nil {
		return "", domainError(http.StatusServiceUnavailable, "BLOB_UNAVAILABLE", "Object storage not configured", nil)
	}

	return s.blob.Put(ctx, blob.MediaKey(projectID, folder, filename), contentType, data)
}

// UploadScreenshot stores a screenshot and records its URL on the
// project.
func (s *Service) UploadScreenshot(ctx context.Context, owner, projectID string, data []byte) (string, error) {
	if _, err := s.store.GetProject(ctx, owner, projectID); err != nil {
		return "", err
	}
	return s.storeScreenshot(ctx, owner, projectID, data)
}

// CaptureScreenshot renders the project's index page in headless Chrome
// and stores the result like an uploaded screenshot.
func (s *Service) CaptureScreenshot(ctx context.Context, owner, projectID string) (string, error) {
	p, err := s.store.GetProject(ctx, owner, projectID)
	if err != nil {
		return "", err
	}

	html := ""
	for _, page := range p.Pages {
		if _, ok := indexPagePaths[page.Path]; ok {
			html = page.HTML
			break
		}
	}
	if html == "" {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Project has no index page", nil)
	}

	png, err := s.capture(ctx, html)
	if err != nil {
		return "", err
	}
	return s.storeScreenshot(ctx, owner, projectID, png)
}

func (s *Service) storeScreenshot(ctx context.Context, owner, projectID string, data []byte) (string, error) {
	if s.blob == nil {
		return "", domainError(http.StatusServiceUnavailable, "BLOB_UNAVAILABLE", "Object storage not configured", nil)
	}
	key := blob.ScreenshotKey(projectID, time.Now().UnixMilli())
	url, err := s.blob.Put(ctx, key, "image/png", data)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateProjectScreenshot(ctx, owner, projectID, url); err != nil {
		return "", err
	}
	return url, nil
}

// SearchProjects runs an owner-scoped full-text search.
func (s *Service) SearchProjects(owner, q string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Total: 0, Query: q}
	}
	return s.search.Search(search.Query{
		Text:    q,
		OwnerID: owner,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Service) indexProject(p store.Project) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		OwnerID:     p.UserID,
	})
}

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"slug":           p.Slug,
		"description":    p.Description,
		"screenshot_url": p.ScreenshotURL,
		"created_at":     p.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func commitPayload(c store.Commit) map[string]any {
	return map[string]any{
		"title":     c.Title,
		"timestamp": c.Timestamp,
	}
}

// commitList synthesizes the one-element commit history from the single
// stored commit slot.
func commitList(p store.Project) []map[string]any {
	if p.LastCommit.Title == "" && p.LastCommit.Timestamp == "" {
		return []map[string]any{}
	}
	return []map[string]any{{
		"title": p.LastCommit.Title,
		"oid":   p.ID,
		"date":  p.LastCommit.Timestamp,
	}}
}

func filePaths(files []store.File) []string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}
