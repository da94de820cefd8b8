package store

// Settings holds user-configured options from the persisted document.
type Settings struct {
	OpenAIAPIKey string `json:"openaiApiKey,omitempty"`
	OpenAIVoice  string `json:"openaiVoice,omitempty"`
}

// Audio lifecycle markers on a bookmark. Empty AudioStatus means no
// generation is pending and no error is recorded.
const (
	AudioStatusGenerating = "generating"
	AudioStatusError      = "error"
)

// Bookmark is one saved article. The audio payload itself lives in the
// binary payload store; the bookmark only carries flags about it.
type Bookmark struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	URL              string  `json:"url,omitempty"`
	ExtractedContent string  `json:"extractedContent,omitempty"`
	AudioStatus      string  `json:"audioStatus,omitempty"`
	AudioError       string  `json:"audioError,omitempty"`
	AudioErrorAtMS   int64   `json:"audioErrorTime,omitempty"`
	AudioStored      bool    `json:"audioStored,omitempty"`
	AudioMimeType    string  `json:"audioMimeType,omitempty"`
	AudioDuration    float64 `json:"audioDuration,omitempty"`
	CreatedAtMS      int64   `json:"createdAt,omitempty"`
}

// JobLogEntry is one immutable job lifecycle record. Status is one of
// started, progress, success, error, cancelled.
type JobLogEntry struct {
	JobID       string         `json:"jobId"`
	DisplayName string         `json:"displayName"`
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	TimestampMS int64          `json:"timestamp"`
}

// Document is the single persisted application state blob.
type Document struct {
	Bookmarks []Bookmark    `json:"bookmarks"`
	Tags      []string      `json:"tags"`
	Settings  Settings      `json:"settings"`
	JobLogs   []JobLogEntry `json:"jobLogs,omitempty"`
}

// Bookmark returns a pointer into the document's bookmark slice, or nil.
func (d *Document) Bookmark(id string) *Bookmark {
	for i := range d.Bookmarks {
		if d.Bookmarks[i].ID == id {
			return &d.Bookmarks[i]
		}
	}
	return nil
}

// Clone deep-copies the document so callers can mutate snapshots freely.
func (d Document) Clone() Document {
	out := d
	if d.Bookmarks != nil {
		out.Bookmarks = make([]Bookmark, len(d.Bookmarks))
		copy(out.Bookmarks, d.Bookmarks)
	}
	if d.Tags != nil {
		out.Tags = make([]string, len(d.Tags))
		copy(out.Tags, d.Tags)
	}
	if d.JobLogs != nil {
		out.JobLogs = make([]JobLogEntry, len(d.JobLogs))
		for i, e := range d.JobLogs {
			out.JobLogs[i] = e.clone()
		}
	}
	return out
}

func (e JobLogEntry) clone() JobLogEntry {
	out := e
	if e.Details != nil {
		out.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return out
}

// AudioPayload is the final artifact of a successful generation job.
type AudioPayload struct {
	JobID    string
	Bytes    []byte
	MimeType string
}
