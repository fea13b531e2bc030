package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"borescope/internal/config"
	"borescope/internal/logging"
)

const userAgent = "Borescope-Go/0.1.0"

// Service receives per-image flush outcomes. Implementations must not block
// the caller for long; the flush worker calls them inline.
type Service interface {
	Progress(path string)
	Error(path, message string)
}

// NewService builds the notifier described by cfg. It returns a no-op
// service when no ntfy topic is configured or error notifications are off.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	if cfg == nil {
		return Noop()
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" || !cfg.Notifications.Errors {
		return Noop()
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	return NewNtfy(topic, timeout, logger)
}

type noopService struct{}

func (noopService) Progress(string)     {}
func (noopService) Error(string, string) {}

// Noop returns a Service that discards every event.
func Noop() Service {
	return noopService{}
}

// Funcs adapts callbacks to Service. Nil callbacks are skipped.
type Funcs struct {
	OnProgress func(path string)
	OnError    func(path, message string)
}

func (f Funcs) Progress(path string) {
	if f.OnProgress != nil {
		f.OnProgress(path)
	}
}

func (f Funcs) Error(path, message string) {
	if f.OnError != nil {
		f.OnError(path, message)
	}
}

type multiService []Service

// Multi fans every event out to services in order. Nil entries are dropped.
func Multi(services ...Service) Service {
	out := make(multiService, 0, len(services))
	for _, s := range services {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiService) Progress(path string) {
	for _, s := range m {
		s.Progress(path)
	}
}

func (m multiService) Error(path, message string) {
	for _, s := range m {
		s.Error(path, message)
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// Ntfy publishes flush errors to an ntfy topic URL. Progress events are
// ignored. Requests run in the background; Wait blocks until they finish.
type Ntfy struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewNtfy constructs an ntfy publisher for endpoint.
func NewNtfy(endpoint string, timeout time.Duration, logger *slog.Logger) *Ntfy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ntfy{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.NewComponentLogger(logger, "notifications"),
	}
}

func (n *Ntfy) Progress(string) {}

func (n *Ntfy) Error(path, message string) {
	data := payload{
		title:    "Borescope - Flush Failed",
		message:  fmt.Sprintf("Could not save %s\n%s", filepath.Base(path), strings.TrimSpace(message)),
		tags:     []string{"borescope", "flush", "error"},
		priority: "high",
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Send(context.Background(), data.title, data.message, data.tags, data.priority); err != nil {
			n.logger.Debug("ntfy publish failed",
				logging.String(logging.FieldImagePath, path),
				logging.Error(err),
			)
		}
	}()
}

// Wait blocks until every background publish has finished.
func (n *Ntfy) Wait() {
	n.wg.Wait()
}

// Send posts one message synchronously.
func (n *Ntfy) Send(ctx context.Context, title, message string, tags []string, priority string) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if priority != "" && priority != "default" {
		req.Header.Set("Priority", priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
