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
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// RcloneTool implements Tool by shelling out to the rclone binary.
type RcloneTool struct {
	// Binary is the rclone executable; defaults to "rclone" on PATH.
	Binary string

	// Timeout bounds each rclone invocation.  Zero means no timeout, which
	// matches the historical behavior of blocking the worker until the tool
	// returns.
	Timeout time.Duration
}

// NewRcloneTool returns a Tool backed by the rclone CLI.
func NewRcloneTool(binary string, timeout time.Duration) *RcloneTool {
	if binary == "" {
		binary = "rclone"
	}
	return &RcloneTool{Binary: binary, Timeout: timeout}
}

func (r *RcloneTool) run(ctx context.Context, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("Running %s %s", r.Binary, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", errors.Wrapf(err, "%s %s failed: %s", r.Binary, args[0], msg)
	}

	return stdout.String(), nil
}

// CopyToLocal copies one remote object to a local path via "rclone copyto".
func (r *RcloneTool) CopyToLocal(ctx context.Context, remoteRef, localPath string) error {
	_, err := r.run(ctx, "copyto", remoteRef, localPath)
	return err
}

// CopyToRemote copies one local file to a remote path via "rclone copyto".
func (r *RcloneTool) CopyToRemote(ctx context.Context, localPath, remoteRef string) error {
	_, err := r.run(ctx, "copyto", localPath, remoteRef)
	return err
}

// RemoteDigest asks the remote for the SHA-1 of remoteRef via
// "rclone hashsum SHA1".  Output is "<digest>  <name>" per line; an empty
// output means the remote reported no digest.
func (r *RcloneTool) RemoteDigest(ctx context.Context, remoteRef string) (string, error) {
	out, err := r.run(ctx, "hashsum", "SHA1", remoteRef)
	if err != nil {
		return "", err
	}

	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}
