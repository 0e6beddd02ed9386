package executorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/kubently/kubently/internal/model"
)

// capabilityPayload mirrors the fabric's capability request body.
type capabilityPayload struct {
	SecurityMode    string   `json:"security_mode"`
	AllowedVerbs    []string `json:"allowed_verbs"`
	ExecutorVersion string   `json:"executor_version,omitempty"`
}

// localAllowedVerbs returns the runner's allow-list as a sorted slice,
// the policy this executor actually enforces and therefore the policy
// it advertises upstream (spec.md §4.6 requires the two to agree).
func localAllowedVerbs() []string {
	verbs := make([]string, 0, len(AllowedVerbs))
	for v := range AllowedVerbs {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// ReportCapabilities POSTs this executor's policy to the fabric.
func (c *Client) ReportCapabilities(ctx context.Context) error {
	payload := capabilityPayload{
		SecurityMode:    string(model.SecurityReadOnly),
		AllowedVerbs:    localAllowedVerbs(),
		ExecutorVersion: Version,
	}
	return c.postJSON(ctx, "/executor/capabilities", payload)
}

// Heartbeat POSTs a liveness ping to the fabric.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.postJSON(ctx, "/executor/heartbeat", struct{}{})
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("executorclient: marshal %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.FabricBaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("executorclient: build request to %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("X-Cluster-ID", c.cfg.ClusterID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executorclient: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("executorclient: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
