package commcell

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Job status polling defaults.
const (
	jobPollInterval = 30 * time.Second

	// jobStuckTimeout is how long a job may sit in pending or waiting
	// state before WaitForCompletion kills it.
	jobStuckTimeout = 30 * time.Minute
)

// Job list categories for JobController queries.
const (
	jobCategoryAll      = 0
	jobCategoryActive   = 1
	jobCategoryFinished = 2
)

// Job is the handle for one server-side job. Its status fields are a cache
// of the last poll; IsFinished and WaitForCompletion refresh them.
type Job struct {
	cc *Commcell
	id int

	status      string
	phase       string
	delayReason string
	percentDone int
	startTime   time.Time
	endTime     time.Time
	summary     map[string]interface{}
	details     map[string]interface{}
}

type jobSummaryResponse struct {
	TotalRecordsWithoutPaging int `json:"totalRecordsWithoutPaging"`
	Jobs                      []struct {
		JobSummary struct {
			JobID           int     `json:"jobId"`
			Status          string  `json:"status"`
			CurrentPhase    string  `json:"currentPhase"`
			PercentComplete float64 `json:"percentComplete"`
			JobStartTime    int64   `json:"jobStartTime"`
			LastUpdateTime  int64   `json:"lastUpdateTime"`
			PendingReason   string  `json:"pendingReason"`
		} `json:"jobSummary"`
	} `json:"jobs"`
}

// JobController queries and controls jobs across the Commcell.
type JobController struct {
	cc *Commcell
}

// Get returns the Job with the given ID, verifying it exists.
func (jc *JobController) Get(ctx context.Context, jobID int) (*Job, error) {
	job := &Job{cc: jc.cc, id: jobID}
	if err := job.refreshSummary(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// JobSummary is one entry of a job list query.
type JobSummary struct {
	JobID           int
	Status          string
	JobType         string
	ClientName      string
	PercentComplete float64
}

type jobListResponse struct {
	Jobs []struct {
		JobSummary struct {
			JobID           int     `json:"jobId"`
			Status          string  `json:"status"`
			JobType         string  `json:"jobType"`
			PercentComplete float64 `json:"percentComplete"`
			Subclient       struct {
				ClientName string `json:"clientName"`
			} `json:"subclient"`
		} `json:"jobSummary"`
	} `json:"jobs"`
}

// jobsRequest builds the job list query payload.
func (jc *JobController) jobsRequest(category int, clientIDs []int, lookupTime time.Duration, limit int) map[string]interface{} {
	clientList := make([]interface{}, 0, len(clientIDs))
	for _, id := range clientIDs {
		clientList = append(clientList, map[string]int{"clientId": id})
	}

	if limit == 0 {
		limit = 20
	}

	return map[string]interface{}{
		"scope":    1,
		"category": category,
		"pagingConfig": map[string]interface{}{
			"sortDirection": 1,
			"offset":        0,
			"sortField":     "jobId",
			"limit":         limit,
		},
		"jobFilter": map[string]interface{}{
			"completedJobLookupTime": int(lookupTime.Seconds()),
			"showAgedJobs":           false,
			"hideAdminJobs":          false,
			"clientList":             clientList,
			"jobTypeList":            []interface{}{},
		},
	}
}

func (jc *JobController) list(ctx context.Context, op string, category int, clientName string, lookupTime time.Duration, limit int) (map[int]JobSummary, error) {
	var clientIDs []int
	if clientName != "" {
		all, err := jc.cc.Clients().All(ctx)
		if err != nil {
			return nil, err
		}
		id, ok := all[strings.ToLower(clientName)]
		if !ok {
			return nil, &SDKError{Op: op,
				Message: fmt.Sprintf("no client exists with name %q", clientName)}
		}
		n, _ := atoiSafe(id)
		clientIDs = append(clientIDs, n)
	}

	request := jc.jobsRequest(category, clientIDs, lookupTime, limit)

	var reply jobListResponse
	if err := jc.cc.t.do(ctx, op, http.MethodPost, svcAllJobs, request, &reply); err != nil {
		return nil, err
	}

	jobs := make(map[int]JobSummary, len(reply.Jobs))
	for _, entry := range reply.Jobs {
		summary := entry.JobSummary
		jobs[summary.JobID] = JobSummary{
			JobID:           summary.JobID,
			Status:          summary.Status,
			JobType:         summary.JobType,
			ClientName:      summary.Subclient.ClientName,
			PercentComplete: summary.PercentComplete,
		}
	}
	return jobs, nil
}

// ActiveJobs returns the currently running jobs, optionally filtered to one
// client. clientName may be empty.
func (jc *JobController) ActiveJobs(ctx context.Context, clientName string, limit int) (map[int]JobSummary, error) {
	return jc.list(ctx, "JobController.ActiveJobs", jobCategoryActive, clientName, time.Hour, limit)
}

// FinishedJobs returns jobs finished within the lookup window, optionally
// filtered to one client.
func (jc *JobController) FinishedJobs(ctx context.Context, clientName string, lookupTime time.Duration, limit int) (map[int]JobSummary, error) {
	return jc.list(ctx, "JobController.FinishedJobs", jobCategoryFinished, clientName, lookupTime, limit)
}

// AllJobs returns all jobs within the lookup window, optionally filtered to
// one client.
func (jc *JobController) AllJobs(ctx context.Context, clientName string, lookupTime time.Duration, limit int) (map[int]JobSummary, error) {
	return jc.list(ctx, "JobController.AllJobs", jobCategoryAll, clientName, lookupTime, limit)
}

// multiJobOpReq is the qoperation payload acting on every active job at
// once.
type multiJobOpReq struct {
	XMLName              xml.Name `xml:"JobManager_PerformMultiCellJobOpReq"`
	Message              string   `xml:"message,attr"`
	OperationDescription string   `xml:"operationDescription,attr"`
	JobOpReq             struct {
		OperationType string `xml:"operationType,attr"`
	} `xml:"jobOpReq"`
}

func (jc *JobController) modifyAll(ctx context.Context, operationType string) error {
	request := multiJobOpReq{Message: "ALL_JOBS", OperationDescription: "All jobs"}
	request.JobOpReq.OperationType = operationType
	return jc.cc.qoperationExecute(ctx, request, nil)
}

// SuspendAll suspends every active job on the Commcell.
func (jc *JobController) SuspendAll(ctx context.Context) error {
	return jc.modifyAll(ctx, "JOB_SUSPEND")
}

// ResumeAll resumes every suspended job on the Commcell.
func (jc *JobController) ResumeAll(ctx context.Context) error {
	return jc.modifyAll(ctx, "JOB_RESUME")
}

// KillAll kills every active job on the Commcell.
func (jc *JobController) KillAll(ctx context.Context) error {
	return jc.modifyAll(ctx, "JOB_KILL")
}

// ID returns the job ID.
func (j *Job) ID() int { return j.id }

// Status returns the job status from the last poll.
func (j *Job) Status() string { return j.status }

// Phase returns the current phase from the last poll.
func (j *Job) Phase() string { return j.phase }

// PercentComplete returns the completion percentage from the last poll.
func (j *Job) PercentComplete() int { return j.percentDone }

// DelayReason returns the pending reason from the last poll, empty when the
// job is not delayed.
func (j *Job) DelayReason() string { return j.delayReason }

// StartTime returns the job start time.
func (j *Job) StartTime() time.Time { return j.startTime }

// EndTime returns the job end time; zero while the job is running.
func (j *Job) EndTime() time.Time { return j.endTime }

// Summary returns the raw job summary document from the last poll.
func (j *Job) Summary() map[string]interface{} { return j.summary }

// Details returns the raw job details document from the last Details call.
func (j *Job) Details() map[string]interface{} { return j.details }

func (j *Job) refreshSummary(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcJob, strconv.Itoa(j.id))

	var raw map[string]interface{}
	if err := j.cc.t.do(ctx, "Job.Refresh", http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}

	var reply jobSummaryResponse
	if err := remarshal(raw, &reply); err != nil || reply.TotalRecordsWithoutPaging == 0 || len(reply.Jobs) == 0 {
		return &SDKError{
			Op:         "Job.Refresh",
			Endpoint:   endpoint,
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no job exists with ID %d", j.id),
		}
	}

	summary := reply.Jobs[0].JobSummary
	j.status = summary.Status
	j.phase = summary.CurrentPhase
	j.delayReason = summary.PendingReason
	j.percentDone = int(summary.PercentComplete)
	if summary.JobStartTime > 0 {
		j.startTime = time.Unix(summary.JobStartTime, 0)
	}
	if summary.LastUpdateTime > 0 && j.isTerminalStatus() {
		j.endTime = time.Unix(summary.LastUpdateTime, 0)
	}
	if jobs, ok := raw["jobs"].([]interface{}); ok && len(jobs) > 0 {
		if entry, ok := jobs[0].(map[string]interface{}); ok {
			j.summary, _ = entry["jobSummary"].(map[string]interface{})
		}
	}
	return nil
}

// RefreshDetails fetches the detailed job document.
func (j *Job) RefreshDetails(ctx context.Context) error {
	payload := map[string]interface{}{
		"jobId":       j.id,
		"showAttempt": true,
	}

	var raw map[string]interface{}
	if err := j.cc.t.do(ctx, "Job.Details", http.MethodPost, svcJobDetails, payload, &raw); err != nil {
		return err
	}

	job, ok := raw["job"].(map[string]interface{})
	if !ok {
		return &SDKError{Op: "Job.Details", Endpoint: svcJobDetails,
			Message: "job details not found in response"}
	}
	j.details = job
	return nil
}

func (j *Job) isTerminalStatus() bool {
	status := strings.ToLower(j.status)
	return strings.Contains(status, "completed") ||
		strings.Contains(status, "killed") ||
		strings.Contains(status, "committed") ||
		strings.Contains(status, "failed")
}

// IsFinished polls the job once and reports whether it reached a terminal
// state (completed, killed, committed or failed).
func (j *Job) IsFinished(ctx context.Context) (bool, error) {
	if err := j.refreshSummary(ctx); err != nil {
		return false, err
	}
	return j.isTerminalStatus(), nil
}

// WaitOptions tune WaitForCompletion.
type WaitOptions struct {
	// PollInterval between status polls; defaults to 30s.
	PollInterval time.Duration

	// StuckTimeout is how long the job may stay pending or waiting before
	// it is killed; defaults to 30 minutes.
	StuckTimeout time.Duration
}

// WaitForCompletion polls the job until it reaches a terminal state or ctx
// is done. Jobs stuck in pending or waiting state beyond the stuck timeout
// are killed. It returns true when the job completed successfully.
//
// Bound the total wait with a context deadline:
//
//	ctx, cancel := context.WithTimeout(ctx, 2*time.Hour)
//	defer cancel()
//	ok, err := job.WaitForCompletion(ctx, commcell.WaitOptions{})
func (j *Job) WaitForCompletion(ctx context.Context, opts WaitOptions) (bool, error) {
	if opts.PollInterval == 0 {
		opts.PollInterval = jobPollInterval
	}
	if opts.StuckTimeout == 0 {
		opts.StuckTimeout = jobStuckTimeout
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var stuckSince time.Time

	for {
		finished, err := j.IsFinished(ctx)
		if err != nil {
			return false, err
		}
		if finished {
			status := strings.ToLower(j.status)
			success := !strings.Contains(status, "failed") && !strings.Contains(status, "killed")
			return success, nil
		}

		status := strings.ToLower(j.status)
		if status == "pending" || status == "waiting" {
			if stuckSince.IsZero() {
				stuckSince = time.Now()
			} else if time.Since(stuckSince) > opts.StuckTimeout {
				if err := j.Kill(ctx, false); err != nil {
					return false, err
				}
				return false, nil
			}
		} else {
			stuckSince = time.Time{}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// action invokes one of the job action endpoints.
func (j *Job) action(ctx context.Context, op, verb string) error {
	endpoint := fmt.Sprintf(svcJobAction, strconv.Itoa(j.id), verb)
	return j.cc.t.do(ctx, op, http.MethodPost, endpoint, nil, nil)
}

// waitForStatus polls until the job status contains want or ctx is done.
func (j *Job) waitForStatus(ctx context.Context, want string) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		if err := j.refreshSummary(ctx); err != nil {
			return err
		}
		if strings.Contains(strings.ToLower(j.status), want) || j.isTerminalStatus() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pause suspends the job, optionally waiting until it reports suspended.
func (j *Job) Pause(ctx context.Context, wait bool) error {
	if err := j.action(ctx, "Job.Pause", jobActionPause); err != nil {
		return err
	}
	if wait {
		return j.waitForStatus(ctx, "suspend")
	}
	return nil
}

// Resume resumes the job, optionally waiting until it reports running.
func (j *Job) Resume(ctx context.Context, wait bool) error {
	if err := j.action(ctx, "Job.Resume", jobActionResume); err != nil {
		return err
	}
	if wait {
		return j.waitForStatus(ctx, "running")
	}
	return nil
}

// Kill kills the job, optionally waiting until it reports killed.
func (j *Job) Kill(ctx context.Context, wait bool) error {
	if err := j.action(ctx, "Job.Kill", jobActionKill); err != nil {
		return err
	}
	if wait {
		return j.waitForStatus(ctx, "killed")
	}
	return nil
}
