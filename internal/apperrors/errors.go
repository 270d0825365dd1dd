// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apperrors defines the error taxonomy shared by every component of
// the ingest-to-answer pipeline.
//
// Every error that can cross a component boundary is tagged with a Kind.
// The HTTP edge maps Kind to a status code via Kind.HTTPStatus(); the job
// engine maps Kind to a retry decision via Kind.Retryable().
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error taxonomy from the system's error handling design.
type Kind string

const (
	// BadRequest marks malformed or out-of-range inputs.
	BadRequest Kind = "bad_request"

	// ArchiveUnsafe marks a zip-slip, symlink, or other unsafe archive entry.
	ArchiveUnsafe Kind = "archive_unsafe"

	// ArchiveTooLarge marks an archive exceeding configured size limits.
	ArchiveTooLarge Kind = "archive_too_large"

	// ArchiveTooManyFiles marks an archive exceeding the configured file count limit.
	ArchiveTooManyFiles Kind = "archive_too_many_files"

	// ParseSkipped marks a per-file parse failure. Never fatal; logged only.
	ParseSkipped Kind = "parse_skipped"

	// UpstreamUnavailable marks a collaborator 5xx, network error, or timeout.
	UpstreamUnavailable Kind = "upstream_unavailable"

	// UpstreamRejected marks a collaborator 4xx response other than 401/429.
	UpstreamRejected Kind = "upstream_rejected"

	// Unauthorized marks a 401 from an upstream provider.
	Unauthorized Kind = "unauthorized"

	// UnsafeQuery marks a structural query rejected by the sanitizer.
	UnsafeQuery Kind = "unsafe_query"

	// EmbedExhausted marks an embedding call that spent its full retry budget.
	EmbedExhausted Kind = "embed_exhausted"

	// NotFound marks a missing resource (job, repo).
	NotFound Kind = "not_found"

	// EmptyParse marks an ingest whose extractor produced zero nodes.
	EmptyParse Kind = "empty_parse"

	// ConfigError marks a startup configuration problem.
	ConfigError Kind = "config_error"

	// Internal marks an unexpected, unclassified failure.
	Internal Kind = "internal"
)

// HTTPStatus maps a Kind to the HTTP status code the edge should return,
// per the error handling design's propagation policy.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest, ArchiveUnsafe, ArchiveTooLarge, ArchiveTooManyFiles, UnsafeQuery:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case EmptyParse:
		return http.StatusUnprocessableEntity
	case UpstreamUnavailable, UpstreamRejected, Unauthorized, EmbedExhausted:
		return http.StatusBadGateway
	case ConfigError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the job engine should requeue a step that
// failed with this Kind, independent of the attempts counter. Kinds that
// already own a retry budget (EmbedExhausted) or that will never succeed
// on retry (ArchiveUnsafe, Unauthorized, UpstreamRejected) are not
// engine-retryable.
func (k Kind) Retryable() bool {
	switch k {
	case UpstreamUnavailable:
		return true
	default:
		return false
	}
}

// Error carries a Kind plus human-readable context through the pipeline.
type Error struct {
	Kind    Kind
	Message string
	Detail  string // optional structured detail, e.g. "status=503 body=..."
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap enables errors.Is/errors.As over the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetail attaches structured detail (e.g. last upstream status/body)
// and returns the same *Error for chaining.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// KindOf extracts the Kind from err, defaulting to Internal for errors that
// were never classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// HTTPStatusOf is a convenience wrapper around KindOf(err).HTTPStatus().
func HTTPStatusOf(err error) int {
	return KindOf(err).HTTPStatus()
}
