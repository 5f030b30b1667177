package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// smoke-login signs in against a running instance, reads the audit feed
// with the issued cookie and signs out again.
func main() {
	base := os.Getenv("SITEKEEPER_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	code := os.Getenv("SITEKEEPER_SMOKE_CODE")
	if code == "" {
		log.Fatal("SITEKEEPER_SMOKE_CODE is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	resp := call(ctx, client, http.MethodGet, base+"/api/admin/audit", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		log.Fatalf("unauthenticated audit read: want 401, got %d", resp.StatusCode)
	}

	body, _ := json.Marshal(map[string]string{"password": code})
	resp = call(ctx, client, http.MethodPost, base+"/api/admin/login", body, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("login: want 200, got %d", resp.StatusCode)
	}
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "admin_session" {
			session = c
		}
	}
	if session == nil {
		log.Fatal("login did not set admin_session")
	}

	resp = call(ctx, client, http.MethodGet, base+"/api/admin/audit?limit=5", nil, session)
	var feed struct {
		Events []struct {
			Action string `json:"action"`
		} `json:"events"`
	}
	err := json.NewDecoder(resp.Body).Decode(&feed)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || err != nil {
		log.Fatalf("audit read: status %d, decode %v", resp.StatusCode, err)
	}
	if len(feed.Events) == 0 || feed.Events[0].Action != "login_success" {
		log.Fatalf("latest audit event is not login_success: %+v", feed.Events)
	}

	resp = call(ctx, client, http.MethodPost, base+"/api/admin/logout", nil, session)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("logout: want 200, got %d", resp.StatusCode)
	}

	fmt.Printf("login smoke test passed against %s\n", base)
}

func call(ctx context.Context, client *http.Client, method, url string, body []byte, cookie *http.Cookie) *http.Response {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}
