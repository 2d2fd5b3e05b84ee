package commands

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dantte-lp/gonat/internal/admin"
	"github.com/dantte-lp/gonat/internal/config"
)

// getMappings fetches the active mapping list from the admin surface.
func getMappings() (admin.MappingsResponse, error) {
	var body admin.MappingsResponse

	resp, err := httpClient.Get(baseURL() + "/v1/mappings")
	if err != nil {
		return body, fmt.Errorf("get mappings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("get mappings: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return body, fmt.Errorf("decode mappings response: %w", err)
	}

	return body, nil
}

// getConfig fetches the daemon's effective configuration.
func getConfig() (*config.Config, error) {
	resp, err := httpClient.Get(baseURL() + "/v1/config")
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get config: unexpected status %d", resp.StatusCode)
	}

	cfg := &config.Config{}
	if err := json.NewDecoder(resp.Body).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config response: %w", err)
	}

	return cfg, nil
}

// postSweep triggers a manual eviction sweep.
func postSweep() (admin.SweepResponse, error) {
	var body admin.SweepResponse

	resp, err := httpClient.Post(baseURL()+"/v1/sweep", "application/json", nil)
	if err != nil {
		return body, fmt.Errorf("post sweep: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("post sweep: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return body, fmt.Errorf("decode sweep response: %w", err)
	}

	return body, nil
}
