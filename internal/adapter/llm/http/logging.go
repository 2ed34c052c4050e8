package http

import (
	"fmt"
	"regexp"
)

// MaxLoggedResponseLength is the maximum length of response text to include
// in logs. Responses longer than this are truncated so user source code is
// not shipped wholesale to log aggregators.
const MaxLoggedResponseLength = 200

// TruncateForLogging safely truncates a response string for logging purposes.
func TruncateForLogging(response string) string {
	if len(response) <= MaxLoggedResponseLength {
		return response
	}
	return response[:MaxLoggedResponseLength] + fmt.Sprintf("... [truncated, total length=%d bytes]", len(response))
}

var urlSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`key=[^&"\s]+`),
	regexp.MustCompile(`apiKey=[^&"\s]+`),
	regexp.MustCompile(`api_key=[^&"\s]+`),
	regexp.MustCompile(`token=[^&"\s]+`),
	regexp.MustCompile(`access_token=[^&"\s]+`),
	regexp.MustCompile(`secret=[^&"\s]+`),
}

// RedactURLSecrets redacts tokens and keys from URLs that end up in error
// messages, so credentials never reach the logs.
//
// Example:
//
//	input:  "https://api.example.com/endpoint?token=secret123&foo=bar"
//	output: "https://api.example.com/endpoint?token=[REDACTED]&foo=bar"
func RedactURLSecrets(text string) string {
	if text == "" {
		return text
	}

	result := text
	for _, re := range urlSecretPatterns {
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			for i := 0; i < len(match); i++ {
				if match[i] == '=' {
					return match[:i+1] + "[REDACTED]"
				}
			}
			return match
		})
	}
	return result
}
