package immich

import (
	"errors"
	"fmt"
	"strings"

	"github.com/imroc/req/v3"
)

// ErrInvalidShareLink means a share reference could not be split into a base
// URL and an access key.
var ErrInvalidShareLink = errors.New("immich: invalid share link")

// RemoteError is a non-success response from the Immich API. The response
// body is kept verbatim so upload/attach failures can be diagnosed without
// re-running.
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("immich: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("immich: %s: status %d: %s", e.Op, e.Status, e.Body)
}

func apiError(op string, resp *req.Response, requestErr error) error {
	if requestErr != nil {
		return fmt.Errorf("immich: %s: %w", op, requestErr)
	}

	if resp.IsErrorState() {
		return &RemoteError{
			Op:     op,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(resp.String()),
		}
	}

	return nil
}
