/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package redact

import "regexp"

// secretPattern pairs a detector with its replacement token. Replacement
// tokens contain no digits, so a scrubbed string never matches again and the
// scrub is idempotent.
type secretPattern struct {
	re          *regexp.Regexp
	replacement string
}

// Ordering matters: the more specific Anthropic prefix must run before the
// generic sk- pattern would consume it.
var secretPatterns = []secretPattern{
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`), "[API_KEY_REDACTED]"},
	{regexp.MustCompile(`sk-proj-[a-zA-Z0-9]{20,}`), "[API_KEY_REDACTED]"},
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "[API_KEY_REDACTED]"},
	{regexp.MustCompile(`(?i)api[_-]?key['"]?\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`), "[API_KEY_REDACTED]"},
	{regexp.MustCompile(`(?i)secret[_-]?key['"]?\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`), "[API_KEY_REDACTED]"},
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.=-]{20,}`), "[API_KEY_REDACTED]"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[JWT_REDACTED]"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[AWS_KEY_REDACTED]"},
	{regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36,}`), "[GITHUB_TOKEN_REDACTED]"},
	{regexp.MustCompile(`xox[baprs]-[0-9a-zA-Z-]+`), "[SLACK_TOKEN_REDACTED]"},
}

// ScrubSecrets replaces credential material embedded in a string, leaving
// the rest intact.
func ScrubSecrets(s string) string {
	if s == "" {
		return s
	}

	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}

	return s
}
