package commcell

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobSummaryFixture(id int, status string, pct float64) map[string]interface{} {
	return map[string]interface{}{
		"totalRecordsWithoutPaging": 1,
		"jobs": []interface{}{
			map[string]interface{}{
				"jobSummary": map[string]interface{}{
					"jobId":           id,
					"status":          status,
					"currentPhase":    "Backup",
					"percentComplete": pct,
					"jobStartTime":    1700000000,
					"lastUpdateTime":  1700003600,
					"pendingReason":   "",
				},
			},
		},
	}
}

// jobStatusServer serves a job summary whose status a test can change
// between polls.
type jobStatusServer struct {
	mu       sync.Mutex
	statuses []string
	polls    int
}

func (js *jobStatusServer) next() string {
	js.mu.Lock()
	defer js.mu.Unlock()
	status := js.statuses[js.polls]
	if js.polls < len(js.statuses)-1 {
		js.polls++
	}
	return status
}

func TestJobControllerGet(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(fmt.Sprintf(svcJob, "101"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, jobSummaryFixture(101, "Running", 42))
	})

	job, err := cc.Jobs().Get(context.Background(), 101)
	require.NoError(t, err)

	assert.Equal(t, 101, job.ID())
	assert.Equal(t, "Running", job.Status())
	assert.Equal(t, "Backup", job.Phase())
	assert.Equal(t, 42, job.PercentComplete())
	assert.Equal(t, time.Unix(1700000000, 0), job.StartTime())
	assert.True(t, job.EndTime().IsZero(), "running job must not have an end time")
	assert.NotNil(t, job.Summary())
}

func TestJobControllerGetFinishedJobHasEndTime(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(fmt.Sprintf(svcJob, "102"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, jobSummaryFixture(102, "Completed", 100))
	})

	job, err := cc.Jobs().Get(context.Background(), 102)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700003600, 0), job.EndTime())
}

func TestJobControllerGetUnknownJob(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(fmt.Sprintf(svcJob, "999"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"totalRecordsWithoutPaging": 0})
	})

	_, err := cc.Jobs().Get(context.Background(), 999)
	require.Error(t, err)

	var sdkErr *SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.True(t, sdkErr.IsNotFound())
}

func TestActiveJobsRequest(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClients, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientListFixture())
	})

	var request map[string]interface{}
	ts.handle(svcAllJobs, func(w http.ResponseWriter, r *http.Request) {
		request = readJSON(t, r)
		writeJSON(t, w, map[string]interface{}{
			"jobs": []interface{}{
				map[string]interface{}{
					"jobSummary": map[string]interface{}{
						"jobId":           301,
						"status":          "Running",
						"jobType":         "Backup",
						"percentComplete": 10.5,
						"subclient": map[string]interface{}{
							"clientName": "fileserver01",
						},
					},
				},
			},
		})
	})

	jobs, err := cc.Jobs().ActiveJobs(context.Background(), "fileserver01", 50)
	require.NoError(t, err)

	require.Contains(t, jobs, 301)
	assert.Equal(t, "Running", jobs[301].Status)
	assert.Equal(t, "Backup", jobs[301].JobType)
	assert.Equal(t, "fileserver01", jobs[301].ClientName)
	assert.Equal(t, 10.5, jobs[301].PercentComplete)

	assert.Equal(t, float64(jobCategoryActive), request["category"])
	paging := request["pagingConfig"].(map[string]interface{})
	assert.Equal(t, float64(50), paging["limit"])
	assert.Equal(t, "jobId", paging["sortField"])

	filter := request["jobFilter"].(map[string]interface{})
	clientList := filter["clientList"].([]interface{})
	require.Len(t, clientList, 1)
	assert.Equal(t, float64(2), clientList[0].(map[string]interface{})["clientId"])
}

func TestFinishedJobsUnknownClient(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClients, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientListFixture())
	})

	_, err := cc.Jobs().FinishedJobs(context.Background(), "ghost", 5*time.Hour, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no client exists")
}

func TestJobIsFinished(t *testing.T) {
	tests := []struct {
		status   string
		finished bool
	}{
		{status: "Running", finished: false},
		{status: "Pending", finished: false},
		{status: "Waiting", finished: false},
		{status: "Completed", finished: true},
		{status: "Completed w/ one or more errors", finished: true},
		{status: "Killed", finished: true},
		{status: "Failed", finished: true},
		{status: "Committed", finished: true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			ts, cc := newTestCommcell(t)
			ts.handle(fmt.Sprintf(svcJob, "7"), func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, jobSummaryFixture(7, tt.status, 0))
			})

			job, err := cc.Jobs().Get(context.Background(), 7)
			require.NoError(t, err)

			finished, err := job.IsFinished(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.finished, finished)
		})
	}
}

func TestJobWaitForCompletion(t *testing.T) {
	ts, cc := newTestCommcell(t)

	js := &jobStatusServer{statuses: []string{"Running", "Running", "Running", "Completed"}}
	ts.handle(fmt.Sprintf(svcJob, "55"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, jobSummaryFixture(55, js.next(), 50))
	})

	job, err := cc.Jobs().Get(context.Background(), 55)
	require.NoError(t, err)

	ok, err := job.WaitForCompletion(context.Background(), WaitOptions{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Completed", job.Status())
}

func TestJobWaitForCompletionFailure(t *testing.T) {
	ts, cc := newTestCommcell(t)

	js := &jobStatusServer{statuses: []string{"Running", "Failed"}}
	ts.handle(fmt.Sprintf(svcJob, "56"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, jobSummaryFixture(56, js.next(), 50))
	})

	job, err := cc.Jobs().Get(context.Background(), 56)
	require.NoError(t, err)

	ok, err := job.WaitForCompletion(context.Background(), WaitOptions{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobWaitKillsStuckJob(t *testing.T) {
	ts, cc := newTestCommcell(t)

	ts.handle(fmt.Sprintf(svcJob, "57"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, jobSummaryFixture(57, "Pending", 0))
	})

	killed := false
	ts.handle(fmt.Sprintf(svcJobAction, "57", jobActionKill), func(w http.ResponseWriter, r *http.Request) {
		killed = true
		writeJSON(t, w, map[string]interface{}{})
	})

	job, err := cc.Jobs().Get(context.Background(), 57)
	require.NoError(t, err)

	ok, err := job.WaitForCompletion(context.Background(), WaitOptions{
		PollInterval: 10 * time.Millisecond,
		StuckTimeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, killed, "stuck pending job should have been killed")
}

func TestJobWaitForCompletionContextCancel(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(fmt.Sprintf(svcJob, "58"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, jobSummaryFixture(58, "Running", 10))
	})

	job, err := cc.Jobs().Get(context.Background(), 58)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = job.WaitForCompletion(ctx, WaitOptions{PollInterval: 10 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJobActions(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(fmt.Sprintf(svcJob, "60"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, jobSummaryFixture(60, "Running", 10))
	})

	actions := map[string]bool{}
	for _, verb := range []string{jobActionPause, jobActionResume, jobActionKill} {
		verb := verb
		ts.handle(fmt.Sprintf(svcJobAction, "60", verb), func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			actions[verb] = true
			writeJSON(t, w, map[string]interface{}{})
		})
	}

	job, err := cc.Jobs().Get(context.Background(), 60)
	require.NoError(t, err)

	require.NoError(t, job.Pause(context.Background(), false))
	require.NoError(t, job.Resume(context.Background(), false))
	require.NoError(t, job.Kill(context.Background(), false))

	assert.True(t, actions[jobActionPause])
	assert.True(t, actions[jobActionResume])
	assert.True(t, actions[jobActionKill])
}

func TestJobRefreshDetails(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(fmt.Sprintf(svcJob, "61"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, jobSummaryFixture(61, "Running", 10))
	})

	ts.handle(svcJobDetails, func(w http.ResponseWriter, r *http.Request) {
		body := readJSON(t, r)
		assert.Equal(t, float64(61), body["jobId"])
		assert.Equal(t, true, body["showAttempt"])
		writeJSON(t, w, map[string]interface{}{
			"job": map[string]interface{}{
				"jobDetail": map[string]interface{}{"progressInfo": map[string]interface{}{}},
			},
		})
	})

	job, err := cc.Jobs().Get(context.Background(), 61)
	require.NoError(t, err)

	require.NoError(t, job.RefreshDetails(context.Background()))
	assert.Contains(t, job.Details(), "jobDetail")
}

func TestJobControllerKillAll(t *testing.T) {
	ts, cc := newTestCommcell(t)

	var payload string
	ts.handle(svcQOperation, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		payload = string(body)
		writeJSON(t, w, map[string]interface{}{})
	})

	require.NoError(t, cc.Jobs().KillAll(context.Background()))

	assert.Contains(t, payload, "JobManager_PerformMultiCellJobOpReq")
	assert.Contains(t, payload, `message="ALL_JOBS"`)
	assert.Contains(t, payload, `operationType="JOB_KILL"`)
}

func TestJobControllerSuspendAllVendorError(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcQOperation, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"error": map[string]interface{}{
				"errorCode":     587,
				"errLogMessage": "job manager is busy",
			},
		})
	})

	err := cc.Jobs().SuspendAll(context.Background())
	require.Error(t, err)

	var sdkErr *SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.Equal(t, 587, sdkErr.Code)
}
