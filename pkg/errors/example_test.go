package errors_test

import (
	"fmt"
	"io/fs"

	"github.com/ajitpratap0/adsync/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeNotFound, "schema file not found").
		WithDetail("file", "schemas/campaign.json")

	fmt.Println(err.Error())
	fmt.Println(err.Detail("file"))

	// Output:
	// not_found: schema file not found
	// schemas/campaign.json
}

// ExampleWrap shows how lower level errors keep their cause.
func ExampleWrap() {
	err := errors.Wrap(fs.ErrNotExist, errors.ErrorTypeFile, "failed to open state file").
		WithDetail("path", "/var/lib/adsync/state.json")

	fmt.Println(errors.IsType(err, errors.ErrorTypeFile))
	fmt.Println(err)

	// Output:
	// true
	// file: failed to open state file: file does not exist
}

// ExampleIsRetryable shows which categories a scheduler may retry.
func ExampleIsRetryable() {
	quota := errors.New(errors.ErrorTypeRateLimit, "RESOURCE_EXHAUSTED")
	auth := errors.New(errors.ErrorTypeAuthentication, "invalid refresh token")

	fmt.Println(errors.IsRetryable(quota))
	fmt.Println(errors.IsRetryable(auth))

	// Output:
	// true
	// false
}

// ExampleIsNotFound demonstrates searching the whole chain.
func ExampleIsNotFound() {
	missing := errors.New(errors.ErrorTypeNotFound, "schema file not found")
	wrapped := errors.Wrap(missing, errors.ErrorTypeData, "extract keyword_view failed")

	fmt.Println(errors.IsType(wrapped, errors.ErrorTypeNotFound))
	fmt.Println(errors.IsNotFound(wrapped))
	fmt.Println(errors.IsMalformed(wrapped))

	// Output:
	// false
	// true
	// false
}

// Example_errorChain shows how contexts accumulate.
func Example_errorChain() {
	err := errors.Wrap(streamQuery(), errors.ErrorTypeData, "extract campaign failed").
		WithDetail("resource", "campaign")

	fmt.Println(err)

	// Output:
	// data: extract campaign failed: connection: stream interrupted
}

func streamQuery() error {
	return errors.New(errors.ErrorTypeConnection, "stream interrupted").
		WithDetail("customer_id", "1234567890")
}

// ExampleWrap_nil shows that wrapping a nil error yields nil.
func ExampleWrap_nil() {
	fmt.Println(errors.Wrap(nil, errors.ErrorTypeData, "unused") == nil)

	// Output:
	// true
}
