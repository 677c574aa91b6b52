package fetch

import (
	"encoding/json"
	"errors"

	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// DecodeFunc turns a clean response into a typed payload. It must be
// deterministic: a failure is never retried.
type DecodeFunc[T any] func(resp *domain.RawResponse) (T, error)

var errEmptyBody = errors.New("empty body")

// JSON decodes the body as JSON into T.
func JSON[T any]() DecodeFunc[T] {
	return func(resp *domain.RawResponse) (T, error) {
		var v T
		if len(resp.Body) == 0 {
			return v, errEmptyBody
		}
		if err := json.Unmarshal(resp.Body, &v); err != nil {
			return v, err
		}
		return v, nil
	}
}

// YAML decodes the body as YAML into T.
func YAML[T any]() DecodeFunc[T] {
	return func(resp *domain.RawResponse) (T, error) {
		var v T
		if len(resp.Body) == 0 {
			return v, errEmptyBody
		}
		if err := yaml.UnmarshalStrict(resp.Body, &v); err != nil {
			return v, err
		}
		return v, nil
	}
}

// Proto decodes a binary protobuf body into a message built by newMsg.
func Proto[T proto.Message](newMsg func() T) DecodeFunc[T] {
	return func(resp *domain.RawResponse) (T, error) {
		msg := newMsg()
		if err := proto.Unmarshal(resp.Body, msg); err != nil {
			var zero T
			return zero, err
		}
		return msg, nil
	}
}

// Raw returns the body as-is.
func Raw(resp *domain.RawResponse) ([]byte, error) {
	return resp.Body, nil
}
