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

// Package layout computes the repo_id-partitioned filesystem paths spec §5
// describes (uploads/<repo_id>, repos/<repo_id>, artifacts/<repo_id>),
// shared by the HTTP edge (which writes the staged archive) and the Job
// Engine (which reads it back).
package layout

import "path/filepath"

// UploadsDir is where a job's source archive is staged after upload.
func UploadsDir(dataDir, repoID string) string {
	return filepath.Join(dataDir, "uploads", repoID)
}

// ArchivePath is the staged archive file itself.
func ArchivePath(dataDir, repoID string) string {
	return filepath.Join(UploadsDir(dataDir, repoID), "source.zip")
}

// ReposDir is where a job's extracted source tree lives.
func ReposDir(dataDir, repoID string) string {
	return filepath.Join(dataDir, "repos", repoID)
}

// ArtifactsDir is where the persisted graph_facts.json artifact lives.
func ArtifactsDir(dataDir, repoID string) string {
	return filepath.Join(dataDir, "artifacts", repoID)
}

// FactsPath is the persisted graph_facts.json artifact file itself.
func FactsPath(dataDir, repoID string) string {
	return filepath.Join(ArtifactsDir(dataDir, repoID), "graph_facts.json")
}
