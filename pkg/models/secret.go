package models

// ListKeys is the payload of a KV metadata list call.
type ListKeys struct {
	Keys []string `json:"keys"`
}

// VersionInfo describes the lifecycle state of a single secret version.
type VersionInfo struct {
	CreatedTime  string `json:"created_time"`
	DeletionTime string `json:"deletion_time"`
	Destroyed    bool   `json:"destroyed"`
}

// SecretMetadata is the versioning envelope of a KV v2 secret.
// CurrentVersion strictly increases with each successful data write;
// deleted/destroyed state is tracked per version in Versions.
type SecretMetadata struct {
	CASRequired        bool                   `json:"cas_required"`
	CreatedTime        string                 `json:"created_time"`
	CurrentVersion     int                    `json:"current_version"`
	DeleteVersionAfter string                 `json:"delete_version_after"`
	MaxVersions        int                    `json:"max_versions"`
	OldestVersion      int                    `json:"oldest_version"`
	UpdatedTime        string                 `json:"updated_time"`
	CustomMetadata     map[string]string      `json:"custom_metadata"`
	Versions           map[string]VersionInfo `json:"versions"`
}

// SecretDataMetadata is the per-version metadata returned alongside data.
type SecretDataMetadata struct {
	CreatedTime    string            `json:"created_time"`
	CustomMetadata map[string]string `json:"custom_metadata"`
	DeletionTime   string            `json:"deletion_time"`
	Destroyed      bool              `json:"destroyed"`
	Version        int               `json:"version"`
}

// SecretData is one version of a secret's payload. A missing "password"
// key means the version holds no password (for example, it was deleted).
type SecretData struct {
	Data     map[string]string  `json:"data"`
	Metadata SecretDataMetadata `json:"metadata"`
}

// SecretCreationResponse is the snapshot returned by a data write.
type SecretCreationResponse struct {
	CreatedTime    string            `json:"created_time"`
	CustomMetadata map[string]string `json:"custom_metadata"`
	DeletionTime   string            `json:"deletion_time"`
	Destroyed      bool              `json:"destroyed"`
	Version        int               `json:"version"`
}

// SecretInfo is the display-ready summary of one secret entry.
type SecretInfo struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Username string `json:"username"`
	Version  int    `json:"version"`
}

// InfoFromMetadata derives a SecretInfo from a key name and its metadata.
// Label falls back to the key name and username to the empty string when
// custom_metadata lacks those fields.
func InfoFromMetadata(id string, meta *SecretMetadata) SecretInfo {
	info := SecretInfo{
		ID:      id,
		Label:   id,
		Version: meta.CurrentVersion,
	}
	if v := meta.CustomMetadata["label"]; v != "" {
		info.Label = v
	}
	info.Username = meta.CustomMetadata["username"]
	return info
}
