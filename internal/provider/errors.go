package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/arcadelab/identity/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// classifyExchangeError converts a code-exchange failure into the broker's
// error taxonomy. Both network failures and provider rejections wrap
// ErrProviderExchange; IsProviderRejection tells them apart for retry policy.
func classifyExchangeError(key string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrProviderExchange, key, err)
}

// IsProviderRejection reports whether the exchange failed with an error
// response from the provider itself (as opposed to a transport failure).
// Provider rejections are never retried.
func IsProviderRejection(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}

// userInfoStatusError is returned when a userinfo endpoint answers with a
// non-success status. It counts as a provider rejection.
type userInfoStatusError struct {
	key    string
	status int
}

func (e *userInfoStatusError) Error() string {
	return fmt.Sprintf("%s: userinfo returned status %d", e.key, e.status)
}

func newUserInfoStatusError(key string, status int) error {
	return fmt.Errorf("%w: %w", domain.ErrProviderExchange, &userInfoStatusError{key: key, status: status})
}

// IsUserInfoRejection reports whether the claims fetch failed with a
// non-success response rather than a transport error.
func IsUserInfoRejection(err error) bool {
	var statusErr *userInfoStatusError
	return errors.As(err, &statusErr)
}

func successStatus(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
