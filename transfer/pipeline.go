/***************************************************************
 *
 * Copyright (C) 2025, Packship Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package transfer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/packshipproject/packship/jobstore"
	"github.com/packshipproject/packship/metrics"
	"github.com/packshipproject/packship/profiles"
)

// Result is the outcome of one pipeline run, consumed immediately by the
// processor to decide the job's terminal state.
type Result struct {
	Succeeded   bool
	ArchivePath string
	Reason      string
}

func failure(format string, args ...interface{}) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Pipeline executes the ordered stages (fetch, archive, push, verify,
// cleanup) for one job.  It owns a private working directory per job, keyed
// by job id so concurrent workers could never collide.
type Pipeline struct {
	tool     Tool
	events   EventSink
	workRoot string
}

// NewPipeline returns a pipeline using the given transfer tool and event
// sink, creating per-job working directories under workRoot.
func NewPipeline(tool Tool, events EventSink, workRoot string) *Pipeline {
	return &Pipeline{tool: tool, events: events, workRoot: workRoot}
}

func (p *Pipeline) event(jobID int64, format string, args ...interface{}) {
	if err := p.events.AppendEvent(jobID, fmt.Sprintf(format, args...)); err != nil {
		log.Warnf("Failed to append event for job %d: %v", jobID, err)
	}
}

// Run drives the full pipeline for one job.  Per-file fetch failures are
// recorded and skipped; archive or push failures abort with a Failure
// result; a checksum mismatch (or missing remote digest) at verify demotes
// the outcome to Failure.  The working directory is removed regardless of
// outcome.
func (p *Pipeline) Run(ctx context.Context, jobID int64, manifest *jobstore.Manifest, profile *profiles.OperationProfile) Result {
	workDir := filepath.Join(p.workRoot, fmt.Sprintf("job-%d", jobID))
	defer p.cleanup(jobID, workDir)

	baseDir, fetched := p.fetch(ctx, jobID, manifest, profile, workDir)
	if fetched == 0 {
		log.Warnf("Job %d: no files fetched, archiving empty package", jobID)
	}

	archivePath, err := p.archive(jobID, manifest.PackageName, workDir)
	if err != nil {
		metrics.PipelineStageFailures.WithLabelValues("archive").Inc()
		p.event(jobID, "Exception during zipping: %v", err)
		return failure("archive stage failed: %v", err)
	}
	p.event(jobID, "Zipping completed: %s", archivePath)

	remoteRef, err := p.push(ctx, jobID, profile, baseDir, archivePath)
	if err != nil {
		metrics.PipelineStageFailures.WithLabelValues("push").Inc()
		p.event(jobID, "Failed to upload %s: %v", archivePath, err)
		return failure("push stage failed: %v", err)
	}
	p.event(jobID, "Uploaded %s to %s", archivePath, remoteRef)

	if err := p.verify(ctx, jobID, archivePath, remoteRef); err != nil {
		metrics.PipelineStageFailures.WithLabelValues("verify").Inc()
		return Result{ArchivePath: archivePath, Reason: fmt.Sprintf("verify stage failed: %v", err)}
	}

	return Result{Succeeded: true, ArchivePath: archivePath}
}

// fetch copies every manifest entry into the working directory, best-effort.
// It returns the base directory (the top-level segment of the first manifest
// entry, used to mirror remote layout on upload) and the number of files
// fetched.
func (p *Pipeline) fetch(ctx context.Context, jobID int64, manifest *jobstore.Manifest, profile *profiles.OperationProfile, workDir string) (string, int) {
	var baseDir string
	fetched := 0

	for _, remote := range manifest.SortedRemotePaths() {
		if baseDir == "" {
			baseDir = strings.SplitN(remote, "/", 2)[0]
		}

		local := sanitizeRelPath(manifest.Files[remote])
		if local == "" {
			p.event(jobID, "Failed to download %s: unusable local path %q", remote, manifest.Files[remote])
			continue
		}

		dest := filepath.Join(workDir, filepath.FromSlash(local))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			p.event(jobID, "Failed to download %s: %v", remote, err)
			continue
		}

		remoteRef := profile.Name + ":" + path.Join(profile.DownloadPath, remote)
		if err := p.tool.CopyToLocal(ctx, remoteRef, dest); err != nil {
			metrics.PipelineStageFailures.WithLabelValues("fetch").Inc()
			log.Warnf("Job %d: failed to download %s: %v", jobID, remote, err)
			p.event(jobID, "Failed to download %s: %v", remote, err)
			continue
		}

		p.event(jobID, "Downloaded %s to %s", remote, dest)
		fetched++
	}

	return baseDir, fetched
}

// archive walks the working directory and writes a single zip named after
// the package, excluding the archive itself and platform junk entries.
// Entry names are slash-separated paths relative to the working directory
// root.
func (p *Pipeline) archive(jobID int64, packageName, workDir string) (string, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create working directory")
	}

	zipPath := filepath.Join(workDir, sanitizeFilename(packageName)+".zip")
	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to create archive file")
	}
	defer zipFile.Close()

	zw := zip.NewWriter(zipFile)

	walkErr := filepath.WalkDir(workDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filePath == zipPath || d.Name() == ".DS_Store" {
			return nil
		}

		rel, err := filepath.Rel(workDir, filePath)
		if err != nil {
			return err
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		f, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(w, f)
		return err
	})
	if walkErr != nil {
		zw.Close()
		return "", errors.Wrap(walkErr, "failed to add files to archive")
	}

	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finalize archive")
	}
	if err := zipFile.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close archive file")
	}

	return zipPath, nil
}

// push uploads the archive to <upload_path>/<base_dir>/<archive_filename>
// on the profile's remote and returns the remote reference.
func (p *Pipeline) push(ctx context.Context, jobID int64, profile *profiles.OperationProfile, baseDir, archivePath string) (string, error) {
	remoteRef := profile.Name + ":" + path.Join(profile.UploadPath, baseDir, filepath.Base(archivePath))
	if err := p.tool.CopyToRemote(ctx, archivePath, remoteRef); err != nil {
		return remoteRef, err
	}
	return remoteRef, nil
}

// verify compares the local SHA-1 of the archive against the digest the
// remote reports for the uploaded object.  A mismatch or an absent remote
// digest fails the job: an unverified package must not be reported as
// delivered.
func (p *Pipeline) verify(ctx context.Context, jobID int64, archivePath, remoteRef string) error {
	localSum, err := FileSHA1(archivePath)
	if err != nil {
		p.event(jobID, "SHA1 checksum verification failed: %v", err)
		return err
	}
	p.event(jobID, "Local SHA1 checksum: %s", localSum)

	remoteSum, err := p.tool.RemoteDigest(ctx, remoteRef)
	if err != nil {
		p.event(jobID, "SHA1 checksum verification failed: %v", err)
		return err
	}
	if remoteSum == "" {
		p.event(jobID, "No SHA1 checksum received from remote for file: %s", remoteRef)
		return errors.Errorf("no SHA1 checksum received from remote for %s", remoteRef)
	}
	if remoteSum != localSum {
		p.event(jobID, "SHA1 checksum verification failed. File may be corrupted during transfer.")
		return errors.Errorf("checksum mismatch: local %s, remote %s", localSum, remoteSum)
	}

	p.event(jobID, "SHA1 checksum verification successful.")
	return nil
}

// cleanup removes the job's working directory, archive included.  Failures
// are logged, never escalated.
func (p *Pipeline) cleanup(jobID int64, workDir string) {
	if err := os.RemoveAll(workDir); err != nil {
		log.Warnf("Job %d: failed to clean working directory %s: %v", jobID, workDir, err)
		p.event(jobID, "Failed to clean working directory %s: %v", workDir, err)
	}
}

// sanitizeRelPath normalizes a manifest-supplied local path into a safe
// relative slash path under the working directory.  Traversal segments and
// absolute prefixes are stripped.
func sanitizeRelPath(p string) string {
	segments := strings.Split(path.Clean(strings.ReplaceAll(p, "\\", "/")), "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, "/")
}

// sanitizeFilename reduces a package name to a single safe path component.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(path.Clean(name))
	if name == "/" || name == "." || name == ".." {
		return "package"
	}
	return name
}
