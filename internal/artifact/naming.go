package artifact

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks artifacts written by a dry run. Only keys whose base name
// starts with it are removed by Tracker.CleanupTemp.
const TempPrefix = "__TEMP__"

// Ext is the extension of JSON-lines artifacts.
const Ext = ".jsonl"

// Filename returns the deterministic artifact name {patient}_{biosample}_{record}.jsonl.
func Filename(patientID string, bioSampleID, recordID int64) string {
	return fmt.Sprintf("%s_%d_%d%s", patientID, bioSampleID, recordID, Ext)
}

// TempFilename prefixes Filename with TempPrefix and a per-call token.
func TempFilename(token, patientID string, bioSampleID, recordID int64) string {
	return TempPrefix + token + "_" + Filename(patientID, bioSampleID, recordID)
}

// NewToken returns a random token for TempFilename.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Key joins the storage prefix (directory) and a file name.
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// IsTemp reports whether the key's base name carries TempPrefix.
func IsTemp(key string) bool {
	return strings.HasPrefix(path.Base(key), TempPrefix)
}
