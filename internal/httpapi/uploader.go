// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"io"
	"os"

	"github.com/kraklabs/repograph/internal/apperrors"
	"github.com/kraklabs/repograph/internal/layout"
)

// FileUploader stages an uploaded archive under DataDir's repo_id
// partition, enforcing sizeLimit with a bounded copy rather than trusting
// Content-Length (the Archive Sandbox enforces the authoritative limits
// once the job is claimed; this is a cheap early reject).
type FileUploader struct {
	DataDir string
}

// Stage writes body to DataDir/uploads/<repoID>/source.zip, refusing to
// write more than sizeLimit bytes.
func (u FileUploader) Stage(repoID string, body io.Reader, sizeLimit int64) error {
	dir := layout.UploadsDir(u.DataDir, repoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.Internal, "create uploads dir", err)
	}

	dest := layout.ArchivePath(u.DataDir, repoID)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "create staged archive", err)
	}
	defer out.Close()

	limited := io.LimitReader(body, sizeLimit+1)
	n, err := io.Copy(out, limited)
	if err != nil {
		os.Remove(dest)
		return apperrors.Wrap(apperrors.Internal, "write staged archive", err)
	}
	if n > sizeLimit {
		os.Remove(dest)
		return apperrors.New(apperrors.ArchiveTooLarge, "uploaded archive exceeds the configured size limit")
	}
	return nil
}
