// Package oaierr maps openai-go errors onto the relay's error taxonomy.
package oaierr

import (
	"errors"

	oai "github.com/openai/openai-go"

	"github.com/lkeff/voicerelay/pkg/types"
)

// Remote wraps err as a RemoteServiceError. API errors decide the kind by
// their HTTP status; everything else is classified as a transport failure.
func Remote(provider, op string, err error) *types.RemoteServiceError {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return types.NewRemoteError(provider, op, apiErr.StatusCode, err)
	}
	kind, status := types.ClassifyRemote(err)
	return &types.RemoteServiceError{Provider: provider, Op: op, Kind: kind, StatusCode: status, Err: err}
}
