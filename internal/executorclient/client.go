package executorclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kubently/kubently/internal/model"
)

// Version is reported to the fabric as the executor's build identifier.
// TODO: wire to a real build-time ldflags value once a release pipeline exists.
const Version = "dev"

var errUnauthorized = errors.New("executorclient: fabric rejected credentials")

// Client runs one executor's lifetime: connect, report capabilities,
// consume dispatched commands, reconnect with backoff on drop.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	runner     *Runner
	log        *slog.Logger
}

// NewClient constructs a Client from a loaded Config.
func NewClient(cfg *Config, log *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 0}, // the stream response has no overall deadline; every request is bounded only by its context
		runner:     NewRunner(cfg.KubectlPath, cfg.CommandTimeout, cfg.OutputCapBytes),
		log:        log,
	}
}

// Run drives the connect/consume/reconnect loop until ctx is canceled.
// An authentication failure (401/403 on stream open) is fatal and
// returned immediately without retrying, since backing off will not
// fix a bad token.
func (c *Client) Run(ctx context.Context) error {
	backoff := newBackoff()
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := c.ReportCapabilities(ctx); err != nil {
			if errors.Is(err, errUnauthorized) {
				return err
			}
			c.log.Warn("capability report failed", "error", err)
		}

		err := c.connectAndServe(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errUnauthorized) {
			c.log.Error("executor credentials rejected by fabric, exiting", "error", err)
			return err
		}

		delay := backoff.next()
		c.log.Warn("stream connection lost, reconnecting", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// connectAndServe opens the SSE stream and runs it alongside a
// heartbeat ticker until the stream ends or ctx is canceled.
func (c *Client) connectAndServe(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := c.openStream(streamCtx)
	if err != nil {
		return err
	}
	defer body.Close()

	group, groupCtx := errgroup.WithContext(streamCtx)
	group.Go(func() error {
		return c.consumeStream(groupCtx, body)
	})
	group.Go(func() error {
		return c.heartbeatLoop(groupCtx)
	})

	err = group.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.FabricBaseURL+"/executor/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("executorclient: build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("X-Cluster-ID", c.cfg.ClusterID)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executorclient: open stream: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("executorclient: stream returned status %d", resp.StatusCode)
	}
	c.log.Info("stream connected", "cluster_id", c.cfg.ClusterID)
	return resp.Body, nil
}

// consumeStream parses the SSE wire format (event:/data: line pairs
// separated by a blank line) and dispatches each command event to a
// new goroutine so a slow kubectl invocation never blocks keepalive
// processing on the same connection.
func (c *Client) consumeStream(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventKind string
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventKind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			c.handleEvent(ctx, model.StreamEventKind(eventKind), data)
		case line == "":
			eventKind = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("executorclient: stream read: %w", err)
	}
	return fmt.Errorf("executorclient: stream closed by fabric")
}

func (c *Client) handleEvent(ctx context.Context, kind model.StreamEventKind, data string) {
	switch kind {
	case model.StreamCommand:
		var cmd model.Command
		if err := json.Unmarshal([]byte(data), &cmd); err != nil {
			c.log.Error("malformed command event", "error", err)
			return
		}
		go c.executeAndReport(ctx, &cmd)
	case model.StreamKeepalive:
		// nothing to do; the connection itself is the signal.
	case model.StreamConnected:
		c.log.Debug("stream session established", "payload", data)
	case model.StreamError:
		c.log.Warn("stream reported error", "payload", data)
	}
}

func (c *Client) executeAndReport(ctx context.Context, cmd *model.Command) {
	result := c.runner.Execute(ctx, cmd)
	result.ClusterID = c.cfg.ClusterID
	if err := c.PostResult(ctx, result); err != nil {
		c.log.Error("failed to report result", "command_id", cmd.ID, "error", err)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				c.log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// PostResult reports one command's outcome back to the fabric, with
// output sent as a plain string as the fabric's result body expects.
func (c *Client) PostResult(ctx context.Context, result *model.Result) error {
	payload := struct {
		*model.Result
		Output string `json:"output,omitempty"`
	}{Result: result, Output: string(result.Output)}
	return c.postJSON(ctx, "/executor/results", payload)
}

// backoff implements exponential backoff with full jitter in
// [1s, 30s], per spec.md §4.5's reconnection policy.
type backoff struct {
	attempt int
}

func newBackoff() *backoff { return &backoff{} }

const (
	backoffMin = time.Second
	backoffMax = 30 * time.Second
)

func (b *backoff) next() time.Duration {
	if b.attempt < 10 { // 1<<10 already exceeds backoffMax; stop growing the shift
		b.attempt++
	}
	ceiling := backoffMin << b.attempt
	if ceiling <= 0 || ceiling > backoffMax {
		ceiling = backoffMax
	}
	return time.Duration(rand.Int64N(int64(ceiling-backoffMin))) + backoffMin
}
