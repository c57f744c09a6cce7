package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"forager/internal/reward"
)

// ErrInvalidImage means the model service refused the input itself.
var ErrInvalidImage = errors.New("classifier rejected image")

type Classifier interface {
	Classify(ctx context.Context, png []byte) ([]reward.Prediction, error)
}

// HTTP posts normalized PNG images to a model service that answers with
// [{"className": ..., "probability": ...}], optionally wrapped in
// {"predictions": [...]}.
type HTTP struct {
	url  string
	http *http.Client
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTP{url: url, http: &http.Client{Timeout: timeout}}
}

func (c *HTTP) Classify(ctx context.Context, png []byte) ([]reward.Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(png))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("classify: read response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: status=%d %s", ErrInvalidImage, resp.StatusCode, bytes.TrimSpace(body))
	default:
		return nil, fmt.Errorf("classify failed: status=%d", resp.StatusCode)
	}
	return decodePredictions(body)
}

func decodePredictions(body []byte) ([]reward.Prediction, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var wrapped struct {
			Predictions []reward.Prediction `json:"predictions"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("classify: decode response: %w", err)
		}
		return wrapped.Predictions, nil
	}
	var predictions []reward.Prediction
	if err := json.Unmarshal(body, &predictions); err != nil {
		return nil, fmt.Errorf("classify: decode response: %w", err)
	}
	return predictions, nil
}
