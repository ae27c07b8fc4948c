package sanitize

import "regexp"

var (
	reAuthHeader   = regexp.MustCompile(`(?im)^authorization:\s*\S+.*$`)
	reBearer       = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`)
	reAtlassian    = regexp.MustCompile(`\bATATT[A-Za-z0-9_\-=]{20,}\b`)
	reSlackHook    = regexp.MustCompile(`https://hooks\.slack\.com/services/[A-Za-z0-9/]+`)
	reURLUserInfo  = regexp.MustCompile(`(https?://)[^/\s:@]+:[^/\s@]+@`)
	reSecretParams = regexp.MustCompile(`(?i)(token|access_token|id_token|api_key|password)=([^\s&]+)`)
)

// Scrub masks credentials before text is written to the tracker or logs.
func Scrub(s string) string {
	s = reAuthHeader.ReplaceAllString(s, "authorization: ***")
	s = reBearer.ReplaceAllString(s, "Bearer ***")
	s = reAtlassian.ReplaceAllString(s, "ATATT***")
	s = reSlackHook.ReplaceAllString(s, "https://hooks.slack.com/services/***")
	s = reURLUserInfo.ReplaceAllString(s, "${1}***@")
	s = reSecretParams.ReplaceAllString(s, "$1=***")
	return s
}
