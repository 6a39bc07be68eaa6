// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishisan-dev/n-upload/internal/staging"
)

func TestLimitedReader(t *testing.T) {
	data, err := io.ReadAll(newLimitedReader(strings.NewReader("abcd"), 4))
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))

	_, err = io.ReadAll(newLimitedReader(strings.NewReader("abcde"), 4))
	assert.ErrorIs(t, err, errChunkTooLarge)

	// limite zero desativa a verificação
	data, err = io.ReadAll(newLimitedReader(strings.NewReader("abcdef"), 0))
	require.NoError(t, err)
	assert.Len(t, data, 6)
}

func TestDecodeBody_InvalidGzip(t *testing.T) {
	_, err := decodeBody("gzip", bytes.NewReader([]byte("not gzip")))
	require.Error(t, err)
	status, code, _ := classify(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BadRequest", code)
}

func TestDecodeBody_Identity(t *testing.T) {
	for _, enc := range []string{"", "identity", " Identity "} {
		rc, err := decodeBody(enc, strings.NewReader("raw"))
		require.NoError(t, err)
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "raw", string(data), "encoding %q", enc)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{staging.ErrUploadNotFound, http.StatusNotFound, "UploadNotFound"},
		{&staging.Error{Code: staging.CodeInsufficientSpace}, http.StatusInsufficientStorage, "InsufficientSpace"},
		{&staging.Error{Code: staging.CodeEmptyBatch}, http.StatusBadRequest, "EmptyBatch"},
		{&staging.Error{Code: staging.CodeMergeFailed}, http.StatusInternalServerError, "MergeFailed"},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge, "PayloadTooLarge"},
		{errors.New("boom"), http.StatusInternalServerError, "InternalError"},
	}
	for _, tc := range cases {
		status, code, _ := classify(tc.err)
		assert.Equal(t, tc.status, status, "%v", tc.err)
		assert.Equal(t, tc.code, code, "%v", tc.err)
	}
}
