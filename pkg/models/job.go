package models

// JobStatus represents the processing status of a segmentation job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsValid returns true if the status is a valid JobStatus.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job represents one segmentation request from the jobs queue.
type Job struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// Validate checks if the job has all required fields.
func (j *Job) Validate() error {
	if j.ID == "" {
		return ErrMissingJobID
	}
	if j.URI == "" {
		return ErrMissingSourceURI
	}
	return nil
}

// VideoMetadata holds the container and stream metadata probed from the
// source file. Only FrameRate feeds into segment construction; the rest is
// recorded for observability.
type VideoMetadata struct {
	FrameRate float64
	Width     int
	Height    int
	Duration  float64
	Container string
}

// Frame is one extracted frame file. Index is parsed from the _<digits>
// suffix of the file name exactly once, at extraction time.
type Frame struct {
	Path  string
	Index int
}

// Segment is the unit published downstream: one uploaded frame with its
// ordinal index, durable location, and the job's frame rate.
type Segment struct {
	Index     int
	URI       string
	FrameRate float64
}

// Result maps segment index to durable URI for one job. It covers exactly
// the set of successfully uploaded frames.
type Result map[int]string

// SegmentEvent is the wire format of the segment-created notification.
type SegmentEvent struct {
	VideoID    string  `json:"video_id"`
	SegmentIdx int     `json:"segment_idx"`
	SegmentURI string  `json:"segment_uri"`
	FPS        float64 `json:"fps"`
}

// JobRecord is the DynamoDB job-status row.
type JobRecord struct {
	PK           string    `dynamodbav:"pk"`
	SK           string    `dynamodbav:"sk"`
	JobID        string    `dynamodbav:"job_id" json:"jobId"`
	SourceURI    string    `dynamodbav:"source_uri" json:"sourceUri"`
	Status       JobStatus `dynamodbav:"status" json:"status"`
	SegmentCount int       `dynamodbav:"segment_count,omitempty" json:"segmentCount,omitempty"`
	ErrorMessage string    `dynamodbav:"error_message,omitempty" json:"errorMessage,omitempty"`
	CreatedAt    string    `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt    string    `dynamodbav:"updated_at" json:"updatedAt"`
}
