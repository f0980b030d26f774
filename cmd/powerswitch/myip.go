package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yairfalse/powerswitch/internal/ingress"
)

const publicIPURL = "https://ip.me"

// discoverPublicIP asks url for the caller's public address.
func discoverPublicIP(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build public ip request: %w", err)
	}
	// ip.me answers plain text only to curl-like clients.
	req.Header.Set("User-Agent", "curl/8.0")
	req.Header.Set("Accept", "*/*")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get public ip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get public ip: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("read public ip: %w", err)
	}

	addr := strings.TrimSpace(string(body))
	if _, err := ingress.CallerCIDR(addr); err != nil {
		return "", fmt.Errorf("public ip response: %w", err)
	}
	return addr, nil
}
