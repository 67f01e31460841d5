// Package resizer squeezes a generated cover under the catalog's upload
// ceiling by round-tripping it through an external resize proxy. The proxy
// only accepts URL-addressable sources, so the image is parked on a
// temporary file host for the duration of the request and always deleted
// afterwards.
package resizer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// Resize target: the catalog renders covers at 600x600 and a high-quality
// JPEG at that size lands comfortably under the 256 KB limit.
const (
	targetWidth  = 600
	targetHeight = 600
	jpegQuality  = 85
)

type Client struct {
	http        *resty.Client
	tempHostURL string
	proxyURL    string
}

func New(tempHostURL string, proxyURL string) *Client {
	return &Client{
		http:        resty.New().SetTimeout(time.Minute),
		tempHostURL: tempHostURL,
		proxyURL:    proxyURL,
	}
}

// Resize returns a 600x600 recompressed JPEG of img. Errors leave the
// caller with the original bytes; the temporary upload is deleted no matter
// which path is taken.
func (c *Client) Resize(ctx context.Context, img []byte) ([]byte, error) {
	srcURL, err := c.upload(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("resizer: temp upload: %w", err)
	}
	defer func() {
		if err := c.delete(ctx, srcURL); err != nil {
			log.Warnf("Failed to delete temporary upload %s (orphaned): %v", srcURL, err)
		}
	}()

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"url":    srcURL,
			"w":      fmt.Sprint(targetWidth),
			"h":      fmt.Sprint(targetHeight),
			"q":      fmt.Sprint(jpegQuality),
			"output": "jpg",
		}).
		Get(c.proxyURL)
	if err != nil {
		return nil, fmt.Errorf("resizer: proxy request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("resizer: proxy returned status %d", resp.StatusCode())
	}

	resized := resp.Body()
	if len(resized) == 0 {
		return nil, fmt.Errorf("resizer: proxy returned an empty body")
	}
	log.Debugf("Resized cover from %d to %d bytes", len(img), len(resized))
	return resized, nil
}

func (c *Client) upload(ctx context.Context, img []byte) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("fileToUpload", "cover.jpg", bytes.NewReader(img)).
		SetFormData(map[string]string{"reqtype": "fileupload"}).
		Post(c.tempHostURL)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("temp host returned status %d", resp.StatusCode())
	}

	url := strings.TrimSpace(string(resp.Body()))
	if !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("temp host returned unexpected body %q", truncate(url, 100))
	}
	return url, nil
}

func (c *Client) delete(ctx context.Context, fileURL string) error {
	name := fileURL[strings.LastIndex(fileURL, "/")+1:]
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"reqtype": "deletefiles",
			"files":   name,
		}).
		Post(c.tempHostURL)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("temp host returned status %d", resp.StatusCode())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
