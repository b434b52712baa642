package sentinel

// Incident is the simplified triage view of a Sentinel incident.
type Incident struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Severity       string   `json:"severity"`
	Status         string   `json:"status"`
	CreatedTime    string   `json:"created_time"`
	LastUpdated    string   `json:"last_updated"`
	IncidentNumber int      `json:"incident_number"`
	Tactics        []string `json:"tactics"`
	AlertCount     int      `json:"alert_count"`
	Owner          string   `json:"owner"`
}

// ListOptions narrows an incident query.
type ListOptions struct {
	TenantID string
	Severity string // all | high | medium | low | informational
	Status   string // active | closed | all
	Limit    int
}
