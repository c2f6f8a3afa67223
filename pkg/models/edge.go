package models

// Edge is a directed connection between two workflow nodes.
// SourceHandle tags branch outputs (condition nodes emit "true"/"false");
// it is empty for plain sequential edges.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
}
