package commcell

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Schedule frequency types reported in task patterns.
const (
	FreqOneTime    = 1
	FreqDaily      = 4
	FreqWeekly     = 8
	FreqMonthly    = 16
	FreqYearly     = 32
	FreqAutomatic  = 1024
	FreqContinuous = 4096
)

// freqNames maps pattern frequency types onto display names.
var freqNames = map[int]string{
	FreqOneTime:    "One time",
	FreqDaily:      "Daily",
	FreqWeekly:     "Weekly",
	FreqMonthly:    "Monthly",
	FreqYearly:     "Yearly",
	FreqAutomatic:  "Automatic",
	FreqContinuous: "Continuous",
}

// Schedules represents the schedules visible in one scope: the whole
// Commcell, or one client, backupset or subclient. The scope is carried as
// the query parameter of the list endpoint.
type Schedules struct {
	cc         *Commcell
	scopeParam string // e.g. "clientId=2", empty for the whole Commcell

	mu      sync.Mutex
	byName  map[string]int // lowercase schedule name -> task ID
	fetched bool
}

type schedulesListResponse struct {
	TaskDetail []struct {
		Task struct {
			TaskID   int    `json:"taskId"`
			TaskName string `json:"taskName"`
		} `json:"task"`
		SubTasks []struct {
			SubTask struct {
				SubTaskName   string `json:"subTaskName"`
				SubTaskID     int    `json:"subTaskId"`
				OperationType int    `json:"operationType"`
			} `json:"subTask"`
		} `json:"subTasks"`
	} `json:"taskDetail"`
}

func (ss *Schedules) endpoint() string {
	if ss.scopeParam == "" {
		return svcSchedules
	}
	return svcSchedules + "?" + ss.scopeParam
}

func (ss *Schedules) fetch(ctx context.Context) error {
	var reply schedulesListResponse
	if err := ss.cc.t.do(ctx, "Schedules.List", http.MethodGet, ss.endpoint(), nil, &reply); err != nil {
		return err
	}

	byName := make(map[string]int)
	for _, detail := range reply.TaskDetail {
		name := detail.Task.TaskName
		if name == "" && len(detail.SubTasks) > 0 {
			name = detail.SubTasks[0].SubTask.SubTaskName
		}
		if name != "" {
			byName[strings.ToLower(name)] = detail.Task.TaskID
		}
	}

	ss.mu.Lock()
	ss.byName = byName
	ss.fetched = true
	ss.mu.Unlock()
	return nil
}

func (ss *Schedules) ensure(ctx context.Context) error {
	ss.mu.Lock()
	fetched := ss.fetched
	ss.mu.Unlock()
	if fetched {
		return nil
	}
	return ss.fetch(ctx)
}

// All returns the schedule names mapped to their task IDs.
func (ss *Schedules) All(ctx context.Context) (map[string]int, error) {
	if err := ss.ensure(ctx); err != nil {
		return nil, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make(map[string]int, len(ss.byName))
	for name, id := range ss.byName {
		out[name] = id
	}
	return out, nil
}

// Has reports whether a schedule with the given name exists in this scope.
func (ss *Schedules) Has(ctx context.Context, name string) (bool, error) {
	if err := ss.ensure(ctx); err != nil {
		return false, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	_, ok := ss.byName[strings.ToLower(name)]
	return ok, nil
}

// Get returns the Schedule with the given name and loads its properties.
func (ss *Schedules) Get(ctx context.Context, name string) (*Schedule, error) {
	if err := ss.ensure(ctx); err != nil {
		return nil, err
	}

	ss.mu.Lock()
	taskID, ok := ss.byName[strings.ToLower(name)]
	ss.mu.Unlock()
	if !ok {
		return nil, &SDKError{
			Op:         "Schedules.Get",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no schedule exists with name %q", name),
		}
	}

	schedule := &Schedule{cc: ss.cc, name: strings.ToLower(name), taskID: taskID}
	if err := schedule.Refresh(ctx); err != nil {
		return nil, err
	}
	return schedule, nil
}

// taskOperationReq is the qoperation payload for task deletion.
type taskOperationReq struct {
	XMLName      xml.Name `xml:"TMMsg_TaskOperationReq"`
	OpType       int      `xml:"opType,attr"`
	TaskEntities []struct {
		TaskID int `xml:"taskId,attr"`
	} `xml:"taskEntities"`
}

// Delete removes the schedule with the given name. Deletion goes through
// the qoperation surface; the REST task endpoints have no delete verb.
func (ss *Schedules) Delete(ctx context.Context, name string) error {
	if err := ss.ensure(ctx); err != nil {
		return err
	}

	ss.mu.Lock()
	taskID, ok := ss.byName[strings.ToLower(name)]
	ss.mu.Unlock()
	if !ok {
		return &SDKError{
			Op:         "Schedules.Delete",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no schedule exists with name %q", name),
		}
	}

	request := taskOperationReq{OpType: 3}
	request.TaskEntities = append(request.TaskEntities, struct {
		TaskID int `xml:"taskId,attr"`
	}{TaskID: taskID})

	if err := ss.cc.qoperationExecute(ctx, request, nil); err != nil {
		return err
	}
	return ss.fetch(ctx)
}

// Refresh re-fetches the schedule list.
func (ss *Schedules) Refresh(ctx context.Context) error {
	return ss.fetch(ctx)
}

// SchedulePattern is the decoded frequency pattern of a schedule.
type SchedulePattern struct {
	// FreqType is one of the Freq* constants.
	FreqType int

	// ActiveStart and ActiveEnd bound the schedule lifetime, as epoch
	// seconds. Zero means unbounded.
	ActiveStart int64
	ActiveEnd   int64

	// StartTime is the seconds-since-midnight start of the schedule window.
	StartTime int
}

// Frequency returns the display name of the pattern frequency.
func (p SchedulePattern) Frequency() string {
	if name, ok := freqNames[p.FreqType]; ok {
		return name
	}
	return "Unknown"
}

// Schedule is a single scheduled task and its last-fetched properties.
type Schedule struct {
	cc     *Commcell
	name   string
	taskID int

	enabled bool
	pattern SchedulePattern
	props   map[string]interface{}
}

type schedulePropertiesResponse struct {
	TaskInfo struct {
		Task struct {
			TaskID    int `json:"taskId"`
			TaskFlags struct {
				Disabled bool `json:"disabled"`
			} `json:"taskFlags"`
		} `json:"task"`
		SubTasks []struct {
			Pattern struct {
				FreqType        int       `json:"freq_type"`
				ActiveStartDate flexInt64 `json:"active_start_date"`
				ActiveEndDate   flexInt64 `json:"active_end_date"`
				ActiveStartTime int       `json:"active_start_time"`
			} `json:"pattern"`
		} `json:"subTasks"`
	} `json:"taskInfo"`
}

// Name returns the schedule name.
func (s *Schedule) Name() string { return s.name }

// TaskID returns the task ID assigned by the server.
func (s *Schedule) TaskID() int { return s.taskID }

// IsEnabled reports whether the schedule is enabled, from the last-fetched
// properties.
func (s *Schedule) IsEnabled() bool { return s.enabled }

// Pattern returns the decoded frequency pattern of the first subtask.
func (s *Schedule) Pattern() SchedulePattern { return s.pattern }

// Properties returns the raw last-fetched task document.
func (s *Schedule) Properties() map[string]interface{} { return s.props }

// Refresh re-fetches the schedule properties from the server.
func (s *Schedule) Refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcSchedule, strconv.Itoa(s.taskID))

	var raw map[string]interface{}
	if err := s.cc.t.do(ctx, "Schedule.Refresh", http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}

	var reply schedulePropertiesResponse
	if err := remarshal(raw, &reply); err != nil || reply.TaskInfo.Task.TaskID == 0 {
		return &SDKError{Op: "Schedule.Refresh", Endpoint: endpoint,
			Message: "failed to get schedule properties"}
	}

	info := reply.TaskInfo
	s.enabled = !info.Task.TaskFlags.Disabled
	if len(info.SubTasks) > 0 {
		pattern := info.SubTasks[0].Pattern
		s.pattern = SchedulePattern{
			FreqType:    pattern.FreqType,
			ActiveStart: int64(pattern.ActiveStartDate),
			ActiveEnd:   int64(pattern.ActiveEndDate),
			StartTime:   pattern.ActiveStartTime,
		}
	}
	if taskInfo, ok := raw["taskInfo"].(map[string]interface{}); ok {
		s.props = taskInfo
	}
	return nil
}

// taskAction invokes a task action verb with the task ID in the body.
func (s *Schedule) taskAction(ctx context.Context, op, verb string, target interface{}) error {
	request := map[string]interface{}{
		"taskInfo": map[string]interface{}{
			"task": map[string]int{"taskId": s.taskID},
		},
	}
	endpoint := fmt.Sprintf(svcScheduleTask, verb)
	return s.cc.t.do(ctx, op, http.MethodPost, endpoint, request, target)
}

// Enable enables the schedule.
func (s *Schedule) Enable(ctx context.Context) error {
	if err := s.taskAction(ctx, "Schedule.Enable", "Enable", nil); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Disable disables the schedule.
func (s *Schedule) Disable(ctx context.Context) error {
	if err := s.taskAction(ctx, "Schedule.Disable", "Disable", nil); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// RunNow triggers the schedule immediately and returns the Job it starts.
func (s *Schedule) RunNow(ctx context.Context) (*Job, error) {
	var reply backupActionResponse
	if err := s.taskAction(ctx, "Schedule.RunNow", "Run", &reply); err != nil {
		return nil, err
	}
	if len(reply.JobIds) == 0 {
		return nil, &SDKError{Op: "Schedule.RunNow",
			Message: "schedule run did not report a job ID"}
	}
	return s.cc.Jobs().Get(ctx, reply.JobIds[0])
}
