package printarr

import (
	"time"
)

// design state machine is:
// DesignStateDiscovered
//
//	-> DesignStateWanted
//	  -> DesignStateDownloading
//	    -> DesignStateDiscovered (manual cancel)
//	    -> DesignStateDownloaded
//	      -> DesignStateOrganized (terminal)
type DesignState string

const (
	DesignStateDiscovered  DesignState = "Discovered"
	DesignStateWanted      DesignState = "Wanted"
	DesignStateDownloading DesignState = "Downloading"
	DesignStateDownloaded  DesignState = "Downloaded"
	DesignStateOrganized   DesignState = "Organized"
)

func (self DesignState) IsTerminal() bool {
	switch self {
	case DesignStateOrganized:
		return true
	default:
		return false
	}
}

func (self DesignState) CanTransition(next DesignState) bool {
	switch self {
	case DesignStateDiscovered:
		return next == DesignStateWanted
	case DesignStateWanted:
		return next == DesignStateDownloading
	case DesignStateDownloading:
		// cancel moves back to discovered
		return next == DesignStateDownloaded || next == DesignStateDiscovered
	case DesignStateDownloaded:
		return next == DesignStateOrganized
	default:
		return false
	}
}

type DownloadMode string

const (
	DownloadModeAuto   DownloadMode = "auto"
	DownloadModeManual DownloadMode = "manual"
)

type Channel struct {
	ChannelId    Id           `json:"channel_id"`
	Name         string       `json:"name"`
	Url          string       `json:"url"`
	DownloadMode DownloadMode `json:"download_mode"`
	Enabled      bool         `json:"enabled"`
	DesignCount  int          `json:"design_count"`
	LastSyncTime *time.Time   `json:"last_sync_time,omitempty"`
}

type Design struct {
	DesignId         Id          `json:"design_id"`
	ChannelId        Id          `json:"channel_id"`
	Name             string      `json:"name"`
	State            DesignState `json:"state"`
	FileCount        int         `json:"file_count"`
	SizeBytes        ByteCount   `json:"size_bytes"`
	PrimaryPreviewId *Id         `json:"primary_preview_id,omitempty"`
	CreateTime       time.Time   `json:"create_time"`
}

type Preview struct {
	PreviewId Id     `json:"preview_id"`
	DesignId  Id     `json:"design_id"`
	Url       string `json:"url"`
	Primary   bool   `json:"primary"`
}

type JobType string

const (
	JobTypeDownload JobType = "download"
	JobTypeOrganize JobType = "organize"
	JobTypeBackfill JobType = "backfill"
	JobTypeSync     JobType = "sync"
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

func (self JobState) IsActive() bool {
	switch self {
	case JobStateQueued, JobStateRunning:
		return true
	default:
		return false
	}
}

type Job struct {
	JobId      Id         `json:"job_id"`
	DesignId   Id         `json:"design_id"`
	ChannelId  Id         `json:"channel_id"`
	Type       JobType    `json:"type"`
	State      JobState   `json:"state"`
	Progress   float32    `json:"progress"`
	Error      string     `json:"error,omitempty"`
	QueueTime  time.Time  `json:"queue_time"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	FinishTime *time.Time `json:"finish_time,omitempty"`
}

// list-shaped cache values carry the server total for pagination,
// so a delete can decrement the cached count without a round trip

type ChannelPage struct {
	Channels []*Channel `json:"channels"`
	Total    int        `json:"total"`
}

type DesignPage struct {
	Designs []*Design `json:"designs"`
	Total   int       `json:"total"`
}

type PreviewPage struct {
	Previews []*Preview `json:"previews"`
}

type JobQueue struct {
	Jobs  []*Job `json:"jobs"`
	Total int    `json:"total"`
}

// any queued or running job means backend write load is active
func (self *JobQueue) HasActiveJobs() bool {
	if self == nil {
		return false
	}
	for _, job := range self.Jobs {
		if job.State.IsActive() {
			return true
		}
	}
	return false
}

type StatsSummary struct {
	TotalChannels    int `json:"total_channels"`
	TotalDesigns     int `json:"total_designs"`
	WantedCount      int `json:"wanted_count"`
	DownloadingCount int `json:"downloading_count"`
	OrganizedCount   int `json:"organized_count"`
	QueuedJobs       int `json:"queued_jobs"`
	FailedJobs       int `json:"failed_jobs"`
}

type ServerSettings struct {
	DownloadDir            string `json:"download_dir"`
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads"`
	OrganizeOnComplete     bool   `json:"organize_on_complete"`
	PreviewQuality         string `json:"preview_quality"`
}

type SyncStatus struct {
	Syncing      bool       `json:"syncing"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	PendingCount int        `json:"pending_count"`
}

type Health struct {
	Ok      bool   `json:"ok"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime"`
}
