package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type client struct {
	BaseURL   string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

const (
	raftStatusPath = "/v1/admin/raft"
	raftJoinPath   = "/v1/admin/raft/join"
)

func newClient(baseURL, out string) *client {
	return &client{BaseURL: baseURL, OutFormat: out, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

func rulePath(project, id string) string {
	return "/v1/projects/" + url.PathEscape(project) + "/rules/" + url.PathEscape(id)
}

func joinBody(id, addr string) ([]byte, error) {
	if id == "" || addr == "" {
		return nil, fmt.Errorf("join requiere --id y --addr")
	}
	return json.Marshal(map[string]string{"id": id, "addr": addr})
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + path
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

// run ejecuta la request, imprime la respuesta y falla si el status no es 2xx.
func (c *client) run(method, path string, body []byte) error {
	status, b, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("%s %s: status=%d body=%s", method, path, status, strings.TrimSpace(string(b)))
	}
	c.print(status, b)
	return nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(strings.TrimSpace(string(body)))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}
