package handlers

import "net/http"

// VersionInfo is served by /version.
type VersionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Backend   string `json:"backend,omitempty"`
	ReadOnly  bool   `json:"readonly"`
}

// VersionHandler serves a fixed VersionInfo.
func VersionHandler(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, info)
	}
}
