// Package tasks defines the payloads handed to background workers.
package tasks

// IngestTask describes one uploaded file waiting to be ingested.
type IngestTask struct {
	TempPath  string `json:"temp_path"`
	MimeType  string `json:"mime_type"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	FileName  string `json:"file_name"`
}

// CleanupStage names the store a CleanupTask targets.
type CleanupStage string

const (
	StageVectors CleanupStage = "vectors"
	StageFiles   CleanupStage = "files"
	StageObjects CleanupStage = "objects"
)

// CleanupTask is a failed deletion step queued for retry. FileName narrows the task to one file;
// empty means the whole session.
type CleanupTask struct {
	Stage     CleanupStage `json:"stage"`
	UserID    string       `json:"user_id"`
	SessionID string       `json:"session_id"`
	FileName  string       `json:"file_name,omitempty"`
}

// Key identifies the task for attempt counting.
func (t CleanupTask) Key() string {
	k := string(t.Stage) + ":" + t.UserID + ":" + t.SessionID
	if t.FileName != "" {
		k += ":" + t.FileName
	}
	return k
}
