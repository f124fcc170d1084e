package common

const (
	// KEY_PROCESS_HANDLE caches a sampled process handle per job handle and pid.
	KEY_PROCESS_HANDLE = "process:%s:%d"
)

const (
	HEADER_USER_ID = "X-User-ID"
)

const (
	ARTIFACT_EXT_SCRIPT   = "py"
	ARTIFACT_EXT_NOTEBOOK = "ipynb"
)

func GetAllowedArtifactExtensions() []string {
	return []string{
		ARTIFACT_EXT_SCRIPT,
		ARTIFACT_EXT_NOTEBOOK,
	}
}
