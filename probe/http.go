package probe

import (
	"context"
	"fmt"
	"net/http"

	"warden/spec"
)

// HTTP probes by issuing a GET and comparing the status code against the
// health spec's expected set.
type HTTP struct {
	URL    string
	Expect spec.HealthSpec
}

func (h *HTTP) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if !h.Expect.ExpectedStatus(resp.StatusCode) {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
