package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/credentials"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// HTTPHost publishes to a serverless-style hosting API. Every path is scoped
// to one tenant site under /sites/{tenant}:
//
//	PUT    /versions/{v}                manifest of paths
//	PUT    /versions/{v}/files/{path}   file body
//	GET    /versions/{v}/health         200 once servable
//	GET    /live                        {"version": "..."} or 404
//	PUT    /live                        {"version": "..."}
//	DELETE /live
//
// Requests carry the target credential as a bearer token.
type HTTPHost struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewHTTPHost creates a target for the API at endpoint.
func NewHTTPHost(name, endpoint string, client *http.Client) *HTTPHost {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPHost{name: name, endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (h *HTTPHost) Name() string            { return h.name }
func (h *HTTPHost) Kind() config.TargetKind { return config.TargetHTTPHost }

type liveVersion struct {
	Version string `json:"version"`
}

type versionManifest struct {
	Version string   `json:"version"`
	Paths   []string `json:"paths"`
}

func (h *HTTPHost) do(ctx context.Context, method, p, contentType string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.endpoint+p, rd)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cred, err := credentials.FromContext(ctx); err == nil {
		req.Header.Set("Authorization", "Bearer "+cred.Secret)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, foundationerrors.DeploymentError("hosting API unreachable").WithCause(err).Retryable().Build()
	}
	return resp, nil
}

func (h *HTTPHost) expect(ctx context.Context, method, p, contentType string, body []byte, ok ...int) error {
	resp, err := h.do(ctx, method, p, contentType, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && len(ok) == 0 {
		return nil
	}
	b := foundationerrors.DeploymentError(fmt.Sprintf("%s %s returned %d", method, p, resp.StatusCode)).
		WithContext("status", resp.StatusCode)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		b = b.Retryable()
	}
	return b.Build()
}

func jsonBody(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func sitePath(tenantID string) string { return "/sites/" + url.PathEscape(tenantID) }

func versionPath(tenantID, v string) string {
	return sitePath(tenantID) + "/versions/" + url.PathEscape(v)
}

func livePath(tenantID string) string { return sitePath(tenantID) + "/live" }

func (h *HTTPHost) Prepare(ctx context.Context, b *Bundle) error {
	if err := checkTenant(b.TenantID); err != nil {
		return err
	}
	paths := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		paths = append(paths, f.Path)
	}
	return h.expect(ctx, http.MethodPut, versionPath(b.TenantID, b.Version), "application/json",
		jsonBody(versionManifest{Version: b.Version, Paths: paths}))
}

func (h *HTTPHost) Upload(ctx context.Context, b *Bundle) error {
	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		if err := h.expect(ctx, http.MethodPut, versionPath(b.TenantID, b.Version)+"/files/"+f.Path, ct, f.Data); err != nil {
			return err
		}
	}
	return nil
}

func (h *HTTPHost) HealthCheck(ctx context.Context, tenantID, version string) error {
	return h.expect(ctx, http.MethodGet, versionPath(tenantID, version)+"/health", "", nil, http.StatusOK)
}

func (h *HTTPHost) Activate(ctx context.Context, tenantID, version string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	return h.expect(ctx, http.MethodPut, livePath(tenantID), "application/json", jsonBody(liveVersion{Version: version}))
}

func (h *HTTPHost) Rollback(ctx context.Context, tenantID, previous string) error {
	if previous == "" {
		return h.expect(ctx, http.MethodDelete, livePath(tenantID), "", nil, http.StatusOK, http.StatusNoContent, http.StatusNotFound)
	}
	return h.Activate(ctx, tenantID, previous)
}

func (h *HTTPHost) ActiveVersion(ctx context.Context, tenantID string) (string, error) {
	resp, err := h.do(ctx, http.MethodGet, livePath(tenantID), "", nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK:
		var lv liveVersion
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&lv); err != nil {
			return "", foundationerrors.DeploymentError("decode live version").WithCause(err).Build()
		}
		return lv.Version, nil
	case http.StatusNotFound:
		return "", nil
	default:
		return "", foundationerrors.DeploymentError(fmt.Sprintf("GET %s returned %d", livePath(tenantID), resp.StatusCode)).
			WithContext("status", resp.StatusCode).Build()
	}
}
