package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a
// user-supplied value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the parameter that failed the check
	ParamValue  string // The value that was checked
}

// CheckValueForInjection uses libinjection to detect SQL injection patterns in
// a value before it is bound into a data query. The engine parameterizes every
// value it sends, so this is a second line of defense for the sample-data
// path, where the surrounding identifiers are interpolated.
//
// Returns nil if no injection is detected.
func CheckValueForInjection(paramName, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		ParamName:   paramName,
		ParamValue:  value,
	}
}
