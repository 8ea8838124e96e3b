package faults

import (
	"strings"
)

// Category groups errors by the kind of dependency failure they indicate
type Category string

const (
	CategoryNetwork        Category = "NETWORK"
	CategoryAPI            Category = "API"
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryValidation     Category = "VALIDATION"
	CategoryResource       Category = "RESOURCE"
	CategoryConfiguration  Category = "CONFIGURATION"
	CategoryProcessing     Category = "PROCESSING"
	CategoryUnknown        Category = "UNKNOWN"
)

// Severity orders how badly an error threatens the component
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Classification is the verdict the recovery decision runs on
type Classification struct {
	Category      Category
	Severity      Severity
	Retryable     bool
	RequiresHuman bool
}

type classifierRule struct {
	substrings []string
	result     Classification
}

// Rules are checked in order; the first matching substring wins.
var classifierRules = []classifierRule{
	{
		substrings: []string{"network", "timeout", "connection", "fetch"},
		result:     Classification{CategoryNetwork, SeverityMedium, true, false},
	},
	{
		substrings: []string{"rate limit", "429"},
		result:     Classification{CategoryAPI, SeverityHigh, true, false},
	},
	{
		substrings: []string{"401", "403", "unauthorized", "forbidden"},
		result:     Classification{CategoryAuthentication, SeverityCritical, false, true},
	},
	{
		substrings: []string{"500", "502", "503"},
		result:     Classification{CategoryAPI, SeverityHigh, true, false},
	},
	{
		substrings: []string{"validation", "invalid", "required", "format"},
		result:     Classification{CategoryValidation, SeverityMedium, false, true},
	},
	{
		substrings: []string{"memory", "disk", "quota", "limit"},
		result:     Classification{CategoryResource, SeverityHigh, false, true},
	},
	{
		substrings: []string{"config", "environment"},
		result:     Classification{CategoryConfiguration, SeverityCritical, false, true},
	},
	{
		substrings: []string{"ai", "model", "generation", "token"},
		result:     Classification{CategoryProcessing, SeverityHigh, true, false},
	},
}

// Classify maps an error message to a classification by substring
// heuristics over the lower-cased text. Attempts beyond the second
// escalate severity one level, capped at CRITICAL.
func Classify(err error, attempt int) Classification {
	result := Classification{CategoryUnknown, SeverityMedium, true, false}
	if err != nil {
		message := strings.ToLower(err.Error())
		for _, rule := range classifierRules {
			if matchesAny(message, rule.substrings) {
				result = rule.result
				break
			}
		}
	}

	if attempt > 2 && result.Severity < SeverityCritical {
		result.Severity++
	}
	return result
}

func matchesAny(message string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(message, sub) {
			return true
		}
	}
	return false
}
