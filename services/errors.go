package services

import "fmt"

// InvalidDateError is returned for an explicit date that is not YYYY-MM-DD.
type InvalidDateError struct {
	Input string
	Err   error
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date %q (want YYYY-MM-DD): %v", e.Input, e.Err)
}

func (e *InvalidDateError) Unwrap() error { return e.Err }

// DiscoveryError means the listing set could not be enumerated.
type DiscoveryError struct {
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err == nil {
		return "listing discovery: " + e.Reason
	}
	return fmt.Sprintf("listing discovery: %s: %v", e.Reason, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// TransientFetchError means a listing's metrics stayed unavailable after
// every retry the client was allowed.
type TransientFetchError struct {
	ListingID string
	Err       error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("listing %s: metrics unavailable after retries: %v", e.ListingID, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// RejectedFetchError means the API refused a listing's metrics request with
// a status that is not worth retrying (for example 403 or 404).
type RejectedFetchError struct {
	ListingID string
	Err       error
}

func (e *RejectedFetchError) Error() string {
	return fmt.Sprintf("listing %s: metrics request rejected: %v", e.ListingID, e.Err)
}

func (e *RejectedFetchError) Unwrap() error { return e.Err }

// MalformedResponseError means a metrics payload did not match the row shape.
type MalformedResponseError struct {
	ListingID string
	Row       int
	Field     string
	Reason    string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	msg := "listing " + e.ListingID + ": malformed metrics response"
	if e.Row > 0 {
		msg += fmt.Sprintf(": row %d", e.Row)
	}
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
