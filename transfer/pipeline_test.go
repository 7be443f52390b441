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
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packshipproject/packship/jobstore"
	"github.com/packshipproject/packship/profiles"
)

// localTool is a Tool over the local filesystem; refs are
// "<profile>:<absolute path>".  Individual operations can be failed by
// remote path for fault-injection.
type localTool struct {
	failFetch      map[string]bool
	failUpload     bool
	digestOverride string
	digestEmpty    bool
}

func refPath(remoteRef string) string {
	_, p, _ := strings.Cut(remoteRef, ":")
	return p
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func (l *localTool) CopyToLocal(_ context.Context, remoteRef, localPath string) error {
	src := refPath(remoteRef)
	if l.failFetch[filepath.Base(src)] {
		return errors.New("simulated fetch failure")
	}
	return copyFile(src, localPath)
}

func (l *localTool) CopyToRemote(_ context.Context, localPath, remoteRef string) error {
	if l.failUpload {
		return errors.New("simulated upload failure")
	}
	return copyFile(localPath, refPath(remoteRef))
}

func (l *localTool) RemoteDigest(_ context.Context, remoteRef string) (string, error) {
	if l.digestEmpty {
		return "", nil
	}
	if l.digestOverride != "" {
		return l.digestOverride, nil
	}
	return FileSHA1(refPath(remoteRef))
}

// memSink collects events in memory.
type memSink struct {
	events []string
}

func (m *memSink) AppendEvent(_ int64, message string) error {
	m.events = append(m.events, message)
	return nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	tool     *localTool
	sink     *memSink
	profile  *profiles.OperationProfile
	srcRoot  string
	destRoot string
	workRoot string
}

func setupPipeline(t *testing.T, files map[string]string) *pipelineFixture {
	base := t.TempDir()
	srcRoot := filepath.Join(base, "src")
	destRoot := filepath.Join(base, "dest")
	workRoot := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(srcRoot, 0755))
	require.NoError(t, os.MkdirAll(destRoot, 0755))

	for remote, content := range files {
		path := filepath.Join(srcRoot, filepath.FromSlash(remote))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	tool := &localTool{failFetch: map[string]bool{}}
	sink := &memSink{}
	return &pipelineFixture{
		pipeline: NewPipeline(tool, sink, workRoot),
		tool:     tool,
		sink:     sink,
		profile: &profiles.OperationProfile{
			Name:         "p",
			DownloadPath: srcRoot,
			UploadPath:   destRoot,
		},
		srcRoot:  srcRoot,
		destRoot: destRoot,
		workRoot: workRoot,
	}
}

func readZipEntries(t *testing.T, zipPath string) map[string]string {
	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer r.Close()

	entries := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		entries[f.Name] = string(content)
	}
	return entries
}

func firstMatching(events []string, prefix string) int {
	for i, ev := range events {
		if strings.HasPrefix(ev, prefix) {
			return i
		}
	}
	return -1
}

func TestPipelineEndToEnd(t *testing.T) {
	fx := setupPipeline(t, map[string]string{
		"a/x.txt": "content of x",
		"a/y.txt": "content of y",
	})
	manifest := &jobstore.Manifest{
		Files:       map[string]string{"a/x.txt": "x.txt", "a/y.txt": "sub/y.txt"},
		ProfileName: "p",
		PackageName: "bundle",
	}

	result := fx.pipeline.Run(context.Background(), 1, manifest, fx.profile)
	require.True(t, result.Succeeded, "pipeline failed: %s", result.Reason)
	assert.Equal(t, "bundle.zip", filepath.Base(result.ArchivePath))

	// Archive lands under <upload_path>/<base_dir>/ and mirrors the
	// manifest's local layout.
	uploaded := filepath.Join(fx.destRoot, "a", "bundle.zip")
	entries := readZipEntries(t, uploaded)
	assert.Equal(t, map[string]string{
		"x.txt":     "content of x",
		"sub/y.txt": "content of y",
	}, entries)

	// Event trail: each fetch, then archive, push, verify outcome, in order.
	iFetchX := firstMatching(fx.sink.events, "Downloaded a/x.txt")
	iFetchY := firstMatching(fx.sink.events, "Downloaded a/y.txt")
	iZip := firstMatching(fx.sink.events, "Zipping completed")
	iPush := firstMatching(fx.sink.events, "Uploaded ")
	iVerify := firstMatching(fx.sink.events, "SHA1 checksum verification successful")
	require.GreaterOrEqual(t, iFetchX, 0)
	require.GreaterOrEqual(t, iFetchY, 0)
	require.Greater(t, iZip, iFetchY)
	require.Greater(t, iPush, iZip)
	require.Greater(t, iVerify, iPush)

	// Working directory is cleaned up regardless of outcome.
	_, err := os.Stat(filepath.Join(fx.workRoot, "job-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestPipelinePartialFetch(t *testing.T) {
	fx := setupPipeline(t, map[string]string{
		"a/one.txt":   "1",
		"a/two.txt":   "2",
		"a/three.txt": "3",
	})
	fx.tool.failFetch["two.txt"] = true

	manifest := &jobstore.Manifest{
		Files: map[string]string{
			"a/one.txt":   "one.txt",
			"a/two.txt":   "two.txt",
			"a/three.txt": "three.txt",
		},
		ProfileName: "p",
		PackageName: "partial",
	}

	result := fx.pipeline.Run(context.Background(), 2, manifest, fx.profile)
	require.True(t, result.Succeeded, "pipeline failed: %s", result.Reason)

	entries := readZipEntries(t, filepath.Join(fx.destRoot, "a", "partial.zip"))
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "one.txt")
	assert.Contains(t, entries, "three.txt")

	failures := 0
	for _, ev := range fx.sink.events {
		if strings.HasPrefix(ev, "Failed to download") {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestPipelinePushFailure(t *testing.T) {
	fx := setupPipeline(t, map[string]string{"a/x.txt": "x"})
	fx.tool.failUpload = true

	manifest := &jobstore.Manifest{
		Files:       map[string]string{"a/x.txt": "x.txt"},
		ProfileName: "p",
		PackageName: "bundle",
	}

	result := fx.pipeline.Run(context.Background(), 3, manifest, fx.profile)
	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Reason, "push stage failed")
}

func TestPipelineVerifyMismatch(t *testing.T) {
	fx := setupPipeline(t, map[string]string{"a/x.txt": "x"})
	fx.tool.digestOverride = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"

	manifest := &jobstore.Manifest{
		Files:       map[string]string{"a/x.txt": "x.txt"},
		ProfileName: "p",
		PackageName: "bundle",
	}

	result := fx.pipeline.Run(context.Background(), 4, manifest, fx.profile)
	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Reason, "verify stage failed")
	assert.Contains(t, result.Reason, "checksum mismatch")
}

func TestPipelineVerifyMissingRemoteDigest(t *testing.T) {
	fx := setupPipeline(t, map[string]string{"a/x.txt": "x"})
	fx.tool.digestEmpty = true

	manifest := &jobstore.Manifest{
		Files:       map[string]string{"a/x.txt": "x.txt"},
		ProfileName: "p",
		PackageName: "bundle",
	}

	result := fx.pipeline.Run(context.Background(), 5, manifest, fx.profile)
	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Reason, "no SHA1 checksum received")
}

func TestPipelineJunkFilesExcluded(t *testing.T) {
	fx := setupPipeline(t, map[string]string{
		"a/x.txt":     "x",
		"a/.DS_Store": "junk",
	})

	manifest := &jobstore.Manifest{
		Files:       map[string]string{"a/x.txt": "x.txt", "a/.DS_Store": ".DS_Store"},
		ProfileName: "p",
		PackageName: "clean",
	}

	result := fx.pipeline.Run(context.Background(), 6, manifest, fx.profile)
	require.True(t, result.Succeeded, "pipeline failed: %s", result.Reason)

	entries := readZipEntries(t, filepath.Join(fx.destRoot, "a", "clean.zip"))
	assert.Equal(t, map[string]string{"x.txt": "x"}, entries)
}

func TestPipelineArchiveDeterminism(t *testing.T) {
	files := map[string]string{
		"a/x.txt": "content of x",
		"a/y.txt": "content of y",
		"a/z.txt": "content of z",
	}
	manifest := &jobstore.Manifest{
		Files: map[string]string{
			"a/x.txt": "x.txt",
			"a/y.txt": "nested/y.txt",
			"a/z.txt": "nested/deeper/z.txt",
		},
		ProfileName: "p",
		PackageName: "det",
	}

	expected := map[string]string{
		"x.txt":               "content of x",
		"nested/y.txt":        "content of y",
		"nested/deeper/z.txt": "content of z",
	}

	for run := 0; run < 2; run++ {
		fx := setupPipeline(t, files)
		result := fx.pipeline.Run(context.Background(), int64(10+run), manifest, fx.profile)
		require.True(t, result.Succeeded, "pipeline failed: %s", result.Reason)

		entries := readZipEntries(t, filepath.Join(fx.destRoot, "a", "det.zip"))
		assert.Equal(t, expected, entries)
	}
}

func TestPipelineArchiveFailure(t *testing.T) {
	fx := setupPipeline(t, map[string]string{"a/x.txt": "x"})

	// A plain file where the work root should be makes every working
	// directory operation fail.
	require.NoError(t, os.WriteFile(fx.workRoot, []byte("in the way"), 0644))

	manifest := &jobstore.Manifest{
		Files:       map[string]string{"a/x.txt": "x.txt"},
		ProfileName: "p",
		PackageName: "bundle",
	}

	result := fx.pipeline.Run(context.Background(), 7, manifest, fx.profile)
	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Reason, "archive stage failed")
}

func TestSanitizeRelPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"x.txt", "x.txt"},
		{"sub/y.txt", "sub/y.txt"},
		{"./a/./b.txt", "a/b.txt"},
		{"../../etc/passwd", "etc/passwd"},
		{"/abs/file.txt", "abs/file.txt"},
		{"a\\b\\c.txt", "a/b/c.txt"},
		{"..", ""},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, sanitizeRelPath(tc.in), "input %q", tc.in)
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "bundle", sanitizeFilename("bundle"))
	assert.Equal(t, "bundle", sanitizeFilename("../bundle"))
	assert.Equal(t, "bundle", sanitizeFilename("/tmp/bundle"))
	assert.Equal(t, "package", sanitizeFilename(".."))
}
