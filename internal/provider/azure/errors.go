// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/juju/errors"
)

// responseStatusCode extracts the HTTP status code from an ARM error
// response, or 0 if the error did not come from an HTTP response.
func responseStatusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// isRejection reports whether err is a definitive provider rejection of
// the request itself. ARM signals these with 4xx responses; everything
// else (5xx, throttling, transport failures) is worth retrying.
func isRejection(err error) bool {
	code := responseStatusCode(err)
	switch {
	case code == http.StatusTooManyRequests:
		// 429 is a throttle, not a verdict on the request.
		return false
	case code >= 400 && code < 500:
		return true
	}
	return false
}

// isNotFound reports whether err is an ARM 404.
func isNotFound(err error) bool {
	return responseStatusCode(err) == http.StatusNotFound
}
