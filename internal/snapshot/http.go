package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/ruledir/internal/rules"
)

// SnapshotPath es la ruta donde cada nodo expone su directorio.
const SnapshotPath = "/v1/snapshot"

// Document es el cuerpo JSON de GET /v1/snapshot.
type Document struct {
	Node     string               `json:"node,omitempty"`
	Projects []rules.ProjectRules `json:"projects"`
}

// HTTPSource lee el snapshot de un peer.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{BaseURL: baseURL, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Fetch(ctx context.Context) (rules.Snapshot, error) {
	doc, err := s.FetchDocument(ctx)
	if err != nil {
		return nil, err
	}
	return rules.SnapshotOf(doc.Projects), nil
}

// FetchDocument devuelve el documento crudo (lo usa el CLI para imprimirlo).
func (s *HTTPSource) FetchDocument(ctx context.Context) (Document, error) {
	var doc Document
	url := strings.TrimRight(s.BaseURL, "/") + SnapshotPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return doc, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return doc, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return doc, fmt.Errorf("peer snapshot: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return doc, fmt.Errorf("peer snapshot decode: %w", err)
	}
	return doc, nil
}
