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

// Package profiles resolves named operation profiles: the routing
// information mapping a remote name to its download and upload roots.
// Profiles live as KEY=VALUE text files in a configured directory and are
// re-read on every lookup so configuration edits take effect without a
// restart.
package profiles

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// OperationProfile is the resolved routing information for a named remote.
type OperationProfile struct {
	Name         string
	DownloadPath string
	UploadPath   string
}

// Resolver looks up operation profiles by name.
type Resolver interface {
	// Resolve returns the profile with the given name, or (nil, nil) if no
	// usable profile exists.  A profile missing either path is treated as
	// not found, not as an error.
	Resolve(name string) (*OperationProfile, error)
}

// DirResolver resolves profiles by scanning *.txt files under a directory.
// Each file holds NAME, PATH_DOWN and PATH_UP keys, one per line.
type DirResolver struct {
	Dir string
}

// NewDirResolver returns a Resolver over the given profile directory.
func NewDirResolver(dir string) *DirResolver {
	return &DirResolver{Dir: dir}
}

// Resolve scans the profile directory and returns the first profile whose
// declared name equals name.
func (r *DirResolver) Resolve(name string) (*OperationProfile, error) {
	var found *OperationProfile

	err := filepath.WalkDir(r.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if found != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".txt") {
			return nil
		}

		profile, err := parseProfileFile(path)
		if err != nil {
			log.Warnf("Skipping unreadable profile file %s: %v", path, err)
			return nil
		}

		if profile.Name == name && profile.DownloadPath != "" && profile.UploadPath != "" {
			found = profile
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan profile directory %s", r.Dir)
	}

	return found, nil
}

func parseProfileFile(path string) (*OperationProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var profile OperationProfile
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "NAME":
			profile.Name = value
		case "PATH_DOWN":
			profile.DownloadPath = value
		case "PATH_UP":
			profile.UploadPath = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &profile, nil
}
