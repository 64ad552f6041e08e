// Package vault holds the snapshot targets that receive off-site copies of
// archive metadata.
package vault

import (
	"fmt"
	"strings"
)

const versionSuffix = ".version"

// snapshotKey returns "<instanceID>/<name>", rejecting segments that would
// escape the vault root.
func snapshotKey(instanceID, name string) (string, error) {
	for _, seg := range []string{instanceID, name} {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return "", fmt.Errorf("invalid snapshot key segment %q", seg)
		}
	}
	return instanceID + "/" + name, nil
}
