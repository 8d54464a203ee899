package gatewayhandler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/kibala/provenance-agent/api"
	"github.com/kibala/provenance-agent/interfaces"
)

// publishTimeout bounds a single gateway round trip. Uploads carry full
// photos, so the budget is wider than the CA's.
const publishTimeout = 60 * time.Second

// Client uploads signed artifacts to the gateway's publish endpoint.
type Client struct {
	serverURL string
	client    *http.Client
	log       *slog.Logger
}

// NewClient creates a gateway client for the given base URL.
func NewClient(serverURL string, log *slog.Logger) (*Client, error) {
	validated, err := api.ValidateServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		serverURL: validated,
		client:    &http.Client{Timeout: publishTimeout},
		log:       log,
	}, nil
}

// Publish uploads the artifact at path as a multipart "file" part and
// returns the gateway's re-signed JPEG bytes verbatim. The caller is
// responsible for persisting them; Publish never touches the artifact store.
func (c *Client) Publish(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read artifact: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("could not build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("could not build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+api.PublishPath, &body)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &interfaces.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &interfaces.NetworkError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Error("Gateway rejected publish",
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)))
		return nil, interfaces.NewNetworkError(resp.StatusCode, respBody)
	}

	c.log.Info("Published artifact",
		slog.String("name", filepath.Base(path)),
		slog.Int("upload_size", len(data)),
		slog.Int("response_size", len(respBody)),
		slog.Duration("duration", time.Since(start)))

	return respBody, nil
}
