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

import "context"

// Tool abstracts the mechanism that moves bytes to and from remote storage.
// Remote references are of the form "<profile_name>:<path>".  The pipeline
// and state machine depend only on this interface, so the concrete backend
// (CLI subprocess, SDK, HTTP) is swappable.
type Tool interface {
	// CopyToLocal copies the remote object at remoteRef to localPath.
	CopyToLocal(ctx context.Context, remoteRef, localPath string) error

	// CopyToRemote copies the local file at localPath to remoteRef.
	CopyToRemote(ctx context.Context, localPath, remoteRef string) error

	// RemoteDigest returns the hex-encoded SHA-1 digest the remote reports
	// for remoteRef, or an empty string if the remote has no digest for it.
	RemoteDigest(ctx context.Context, remoteRef string) (string, error)
}

// EventSink receives audit events produced while a job is processed.  The
// job store satisfies this; tests substitute an in-memory sink.
type EventSink interface {
	AppendEvent(jobID int64, message string) error
}
