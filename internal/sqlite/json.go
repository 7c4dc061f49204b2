package sqlite

// projectJSON is one line of projects.jsonl.
type projectJSON struct {
	RecordID           string `json:"record_id"`
	URI                string `json:"uri"`
	PersistenceVersion int    `json:"persistence_version"`
	Release            string `json:"release"`
	Layout             string `json:"layout"`
	Operation          string `json:"operation"`
	UpdatedAt          string `json:"updated_at"`
}
