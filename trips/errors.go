package trips

import "fmt"

// MalformedRecordError reports a raw record missing a field its era is
// required to supply. The record is dropped and counted; the batch
// continues.
type MalformedRecordError struct {
	Era     Era
	Missing Field
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: missing %s", e.Era, e.Missing)
}

// UnknownEraError reports a batch tagged with an era the reconciler has no
// mapping for.
type UnknownEraError struct {
	Era Era
}

func (e *UnknownEraError) Error() string {
	return fmt.Sprintf("unknown source era: %q", e.Era)
}
