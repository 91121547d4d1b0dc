package commcell

// REST endpoint paths, relative to the configured API base URL
// (e.g. https://commserve.example.com:443/commandcenter/api/).
//
// Paths containing printf verbs are formatted with the relevant entity IDs
// before being passed to the transport.
const (
	svcLogin    = "Login"
	svcLogout   = "Logout"
	svcWhoAmI   = "WhoAmI"
	svcRenew    = "RenewLoginToken"
	svcCommServ = "CommServ"

	svcClients = "Client"
	svcClient  = "Client/%s"

	svcClientGroups           = "ClientGroup"
	svcClientGroup            = "ClientGroup/%s"
	svcClientGroupAddOrRemove = "ClientGroup/%s/Clients"

	svcAgents          = "Client/%s/Agent"
	svcBackupsets      = "Backupset?clientId=%s&applicationId=%s"
	svcAddBackupset    = "Backupset"
	svcBackupset       = "Backupset/%s"
	svcSubclients      = "Subclient?clientId=%s&applicationId=%s&backupsetId=%s"
	svcSubclient       = "Subclient/%s"
	svcSubclientBackup = "Subclient/%s/action/backup?backupLevel=%s"

	svcBrowse = "DoBrowse"

	svcJob        = "Job/%s"
	svcJobDetails = "JobDetails"
	svcJobAction  = "Job/%s/action/%s"
	svcAllJobs    = "Jobs"

	svcNetworkTopologies = "FirewallTopology"
	svcNetworkTopology   = "FirewallTopology/%s"
	svcPushTopology      = "FirewallTopology/%s/Push"

	svcResourcePools = "ResourcePool"
	svcResourcePool  = "ResourcePool/%s"

	svcPlans = "V2/Plan"
	svcPlan  = "V2/Plan/%s"

	svcSchedules    = "Schedules"
	svcSchedule     = "Schedules/%s"
	svcScheduleTask = "Schedules/task/Action/%s"

	svcReplicationMonitor    = "Replications/Monitors/continuous"
	svcReplicationMonitorOne = "Replications/Monitors/continuous/%s"

	svcExecuteQCommand = "QCommand"
	svcQOperation      = "ExecuteQCommand"
)

// Job action verbs accepted by the job action endpoint.
const (
	jobActionPause  = "pause"
	jobActionResume = "resume"
	jobActionKill   = "kill"
)
