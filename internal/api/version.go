package api

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// APIVersion is the path prefix version of the REST surface.
const APIVersion = "v1"

// BuildInfo is set at link time through the server command's variables.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
}

func (b BuildInfo) withDefaults() BuildInfo {
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.GitCommit == "" {
		b.GitCommit = "unknown"
	}
	if b.BuildDate == "" {
		b.BuildDate = "unknown"
	}
	return b
}

type versionResponse struct {
	Service    string `json:"service"`
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	APIVersion string `json:"api_version"`
	Storage    string `json:"storage"`
}

// VersionHandler serves GET /version. The body is fixed for the life of
// the process, so it is encoded once.
func VersionHandler(info BuildInfo, storageDriver string) http.Handler {
	info = info.withDefaults()
	if storageDriver == "" {
		storageDriver = "postgres"
	}
	body, _ := json.Marshal(versionResponse{
		Service:    "attend",
		Version:    info.Version,
		GitCommit:  info.GitCommit,
		BuildDate:  info.BuildDate,
		GoVersion:  runtime.Version(),
		APIVersion: APIVersion,
		Storage:    storageDriver,
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(body)
	})
}
