package portal

import "strings"

// Stage identifies the collaborator that failed during reconciliation.
type Stage string

const (
	StageRender Stage = "render"
	StageUpload Stage = "upload"
	StageIndex  Stage = "index"
)

// maxErrorLength bounds the upload error stored on a document.
const maxErrorLength = 240

// StageError tags a collaborator failure with the reconciliation stage it
// occurred in. The stage prefix keeps stored messages recognizable even when
// the underlying error text varies by driver or locale.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return string(e.Stage) + " failed"
	}
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// displayError converts a reconciliation failure into the bounded,
// user-presentable string persisted on the document.
func displayError(err error) string {
	msg := ""
	if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	if msg == "" {
		return "portal upload failed"
	}
	if runes := []rune(msg); len(runes) > maxErrorLength {
		msg = strings.TrimSpace(string(runes[:maxErrorLength]))
	}
	return msg
}
